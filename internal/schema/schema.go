// Package schema validates loosely typed records (decoded JSON objects)
// against a structural schema and reports field-level violations.
package schema

import (
	"fmt"
	"regexp"
)

// Type is the JSON type a field must carry
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

// Format names a syntactic constraint checked after the type.
type Format string

const (
	FormatNone  Format = ""
	FormatDate  Format = "date"  // YYYY-MM-DD, real calendar date
	FormatMoney Format = "money" // at most two fractional digits
)

// Issue classifies a violation. The declaration order is also the
// reporting priority: only the first applicable issue is reported per field.
type Issue string

const (
	IssueMissing         Issue = "missing"
	IssueTypeMismatch    Issue = "type_mismatch"
	IssueFormatViolation Issue = "format_violation"
	IssueOutOfRange      Issue = "out_of_range"
)

// ValidationError is a single field-level violation.
type ValidationError struct {
	Field    string `json:"field"`
	Issue    Issue  `json:"issue"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	ClaimID  string `json:"claim_id,omitempty"`
}

func (e ValidationError) Error() string {
	if e.ClaimID != "" {
		return fmt.Sprintf("%s: %s (expected %s, got %s) in claim %s", e.Field, e.Issue, e.Expected, e.Actual, e.ClaimID)
	}
	return fmt.Sprintf("%s: %s (expected %s, got %s)", e.Field, e.Issue, e.Expected, e.Actual)
}

// Field describes one property of a record.
type Field struct {
	Name     string
	Type     Type
	Required bool
	Format   Format

	// Pattern is applied to string values (and string array items) as a
	// format check.
	Pattern     *regexp.Regexp
	PatternDesc string

	Enum      []string
	Min       *float64
	Max       *float64
	MaxLength int

	// Items constrains array elements; only Type, Pattern and PatternDesc are used.
	Items *Field

	// Properties validates a nested object; violations are reported with a
	// dotted path (e.g. "patient.age").
	Properties *Schema
}

// Schema is an ordered list of fields. Errors are reported in field order.
type Schema struct {
	Name string

	// IDField names the field whose value is copied into ValidationError.ClaimID.
	IDField string

	Fields []Field
}

// Lookup returns the named field.
func (s Schema) Lookup(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Required returns the names of the required fields in schema order.
func (s Schema) Required() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

func bound(v float64) *float64 {
	return &v
}
