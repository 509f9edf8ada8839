package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var datePattern = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)

// Validate checks record against s and returns every violation, one per
// field, in schema order. An empty result means the record is fully
// conformant. Malformed input (nil maps, unexpected Go types, NaN) is
// reported as violations rather than causing a panic.
func Validate(record map[string]any, s Schema) []ValidationError {
	claimID := ""
	if s.IDField != "" {
		if v, ok := record[s.IDField].(string); ok {
			claimID = v
		}
	}

	var errs []ValidationError
	validateObject(&errs, record, s, "", claimID)
	return errs
}

func validateObject(errs *[]ValidationError, record map[string]any, s Schema, prefix, claimID string) {
	for _, f := range s.Fields {
		path := prefix + f.Name
		v, present := record[f.Name]
		if !present || v == nil {
			if f.Required {
				actual := "absent"
				if present {
					actual = "null"
				}
				*errs = append(*errs, ValidationError{
					Field:    path,
					Issue:    IssueMissing,
					Expected: describeType(f),
					Actual:   actual,
					ClaimID:  claimID,
				})
			}
			continue
		}

		if issue, expected, actual, ok := checkField(f, v); !ok {
			*errs = append(*errs, ValidationError{
				Field:    path,
				Issue:    issue,
				Expected: expected,
				Actual:   actual,
				ClaimID:  claimID,
			})
			continue
		}

		if f.Type == TypeObject && f.Properties != nil {
			validateObject(errs, v.(map[string]any), *f.Properties, path+".", claimID)
		}
	}
}

// checkField returns the highest-priority issue for a present value.
func checkField(f Field, v any) (Issue, string, string, bool) {
	if !typeMatches(f.Type, v) {
		return IssueTypeMismatch, string(f.Type), kindOf(v), false
	}

	switch f.Type {
	case TypeString:
		s := v.(string)
		if ok, expected := checkStringFormat(f, s); !ok {
			return IssueFormatViolation, expected, quote(s), false
		}
		if ok, expected, actual := checkStringRange(f, s); !ok {
			return IssueOutOfRange, expected, actual, false
		}

	case TypeNumber, TypeInteger:
		text, n, _ := numberOf(v)
		if f.Format == FormatMoney && !hasAtMostTwoDecimals(text) {
			return IssueFormatViolation, "at most 2 decimal places", text, false
		}
		if f.Min != nil && n < *f.Min {
			return IssueOutOfRange, ">= " + formatBound(*f.Min), text, false
		}
		if f.Max != nil && n > *f.Max {
			return IssueOutOfRange, "<= " + formatBound(*f.Max), text, false
		}

	case TypeArray:
		items, _ := asSlice(v)
		if f.Items != nil {
			for i, item := range items {
				if !typeMatches(f.Items.Type, item) {
					return IssueTypeMismatch, "array of " + string(f.Items.Type), fmt.Sprintf("element %d is %s", i, kindOf(item)), false
				}
			}
			for i, item := range items {
				s, isString := item.(string)
				if isString && f.Items.Pattern != nil && !f.Items.Pattern.MatchString(s) {
					return IssueFormatViolation, describePattern(*f.Items), fmt.Sprintf("element %d is %s", i, quote(s)), false
				}
			}
		}
		if f.MaxLength > 0 && len(items) > f.MaxLength {
			return IssueOutOfRange, fmt.Sprintf("at most %d elements", f.MaxLength), fmt.Sprintf("%d elements", len(items)), false
		}
	}

	return "", "", "", true
}

func checkStringFormat(f Field, s string) (bool, string) {
	switch f.Format {
	case FormatDate:
		if !datePattern.MatchString(s) {
			return false, "YYYY-MM-DD"
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return false, "valid calendar date (YYYY-MM-DD)"
		}
	}
	if f.Pattern != nil && !f.Pattern.MatchString(s) {
		return false, describePattern(f)
	}
	return true, ""
}

func checkStringRange(f Field, s string) (bool, string, string) {
	if len(f.Enum) > 0 {
		found := false
		for _, allowed := range f.Enum {
			if s == allowed {
				found = true
				break
			}
		}
		if !found {
			return false, "one of [" + strings.Join(f.Enum, ", ") + "]", quote(s)
		}
	}
	if f.MaxLength > 0 {
		if n := utf8.RuneCountInString(s); n > f.MaxLength {
			return false, fmt.Sprintf("at most %d characters", f.MaxLength), fmt.Sprintf("%d characters", n)
		}
	}
	return true, "", ""
}

func typeMatches(t Type, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		_, n, ok := numberOf(v)
		return ok && !math.IsNaN(n) && !math.IsInf(n, 0)
	case TypeInteger:
		_, n, ok := numberOf(v)
		return ok && !math.IsNaN(n) && !math.IsInf(n, 0) && n == math.Trunc(n)
	case TypeArray:
		_, ok := asSlice(v)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

// numberOf returns the canonical text and float value of a numeric value.
// The text form keeps the precision of json.Number input.
func numberOf(v any) (string, float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return "", 0, false
		}
		return n.String(), f, true
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), n, true
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), float64(n), true
	case int:
		return strconv.Itoa(n), float64(n), true
	case int32:
		return strconv.FormatInt(int64(n), 10), float64(n), true
	case int64:
		return strconv.FormatInt(n, 10), float64(n), true
	case uint:
		return strconv.FormatUint(uint64(n), 10), float64(n), true
	case uint32:
		return strconv.FormatUint(uint64(n), 10), float64(n), true
	case uint64:
		return strconv.FormatUint(n, 10), float64(n), true
	}
	return "", 0, false
}

func hasAtMostTwoDecimals(text string) bool {
	d, err := decimal.NewFromString(text)
	if err != nil {
		return false
	}
	return d.Round(2).Equal(d)
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}

func kindOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	}
	if _, ok := asSlice(v); ok {
		return "array"
	}
	if _, n, ok := numberOf(v); ok {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return "non-finite number"
		}
		if n == math.Trunc(n) {
			return "integer"
		}
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func describeType(f Field) string {
	switch f.Format {
	case FormatDate:
		return "string (YYYY-MM-DD)"
	case FormatMoney:
		return "number (at most 2 decimal places)"
	}
	return string(f.Type)
}

func describePattern(f Field) string {
	if f.PatternDesc != "" {
		return f.PatternDesc
	}
	return "match " + f.Pattern.String()
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// quote renders a string value for an error message, truncated so that a
// very long value cannot flood logs.
func quote(s string) string {
	const limit = 64
	if utf8.RuneCountInString(s) > limit {
		r := []rune(s)
		s = string(r[:limit]) + "..."
	}
	return strconv.Quote(s)
}
