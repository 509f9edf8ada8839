package schema

import (
	"fmt"
	"regexp"

	"github.com/ppiankov/claimsagent/internal/model"
)

var (
	identifierPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	serviceCodePattern = regexp.MustCompile(`^[0-9A-Z]{5}$`)
	icd10Pattern       = regexp.MustCompile(`^[A-TV-Z][0-9][0-9A-Z](\.[0-9A-Z]{1,4})?$`)
)

// IdentifierPattern is the accepted shape for claim, patient and provider ids.
func IdentifierPattern() *regexp.Regexp {
	return identifierPattern
}

// ClaimSchema returns the schema every record from the claims system must
// satisfy before it is returned as a model.ClaimRecord.
func ClaimSchema() Schema {
	statuses := make([]string, len(model.ClaimStatuses))
	for i, s := range model.ClaimStatuses {
		statuses[i] = string(s)
	}

	return Schema{
		Name:    "claim",
		IDField: "claim_id",
		Fields: []Field{
			idField("claim_id", true),
			idField("patient_id", true),
			idField("provider_id", true),
			{Name: "claim_date", Type: TypeString, Required: true, Format: FormatDate},
			{Name: "amount", Type: TypeNumber, Required: true, Format: FormatMoney, Min: bound(0)},
			{Name: "status", Type: TypeString, Required: true, Enum: statuses},
			{Name: "service_date", Type: TypeString, Format: FormatDate},
			{Name: "service_code", Type: TypeString, Pattern: serviceCodePattern, PatternDesc: "5-character CPT/HCPCS code"},
			{
				Name:      "diagnosis_codes",
				Type:      TypeArray,
				MaxLength: 25,
				Items:     &Field{Type: TypeString, Pattern: icd10Pattern, PatternDesc: "ICD-10 code (e.g. E11.9)"},
			},
			{Name: "patient", Type: TypeObject, Properties: claimPatientSchema()},
		},
	}
}

func claimPatientSchema() *Schema {
	return &Schema{
		Name: "claim.patient",
		Fields: []Field{
			{Name: "age", Type: TypeInteger, Min: bound(0), Max: bound(130)},
			{Name: "gender", Type: TypeString, MaxLength: 32},
			{Name: "symptoms", Type: TypeArray, MaxLength: 50, Items: &Field{Type: TypeString}},
			{Name: "vitals", Type: TypeObject},
			{Name: "notes", Type: TypeString, MaxLength: 5000},
		},
	}
}

func idField(name string, required bool) Field {
	return Field{
		Name:        name,
		Type:        TypeString,
		Required:    required,
		Pattern:     identifierPattern,
		PatternDesc: "1-64 characters of [A-Za-z0-9_-]",
	}
}

// DecodeClaim converts a record into a model.ClaimRecord. The record must
// already be conformant: DecodeClaim re-validates and refuses to build a
// partially populated claim.
func DecodeClaim(record map[string]any) (model.ClaimRecord, error) {
	if errs := Validate(record, ClaimSchema()); len(errs) > 0 {
		return model.ClaimRecord{}, fmt.Errorf("decode claim: %w", errs[0])
	}

	var rec model.ClaimRecord
	rec.ClaimID = record["claim_id"].(string)
	rec.PatientID = record["patient_id"].(string)
	rec.ProviderID = record["provider_id"].(string)
	rec.Status = model.ClaimStatus(record["status"].(string))

	var err error
	if rec.ClaimDate, err = model.ParseDate(record["claim_date"].(string)); err != nil {
		return model.ClaimRecord{}, fmt.Errorf("decode claim_date: %w", err)
	}

	text, _, _ := numberOf(record["amount"])
	if rec.Amount, err = model.NewAmount(text); err != nil {
		return model.ClaimRecord{}, fmt.Errorf("decode amount: %w", err)
	}

	if v, ok := record["service_date"].(string); ok {
		d, err := model.ParseDate(v)
		if err != nil {
			return model.ClaimRecord{}, fmt.Errorf("decode service_date: %w", err)
		}
		rec.ServiceDate = &d
	}
	if v, ok := record["service_code"].(string); ok {
		rec.ServiceCode = v
	}
	if items, ok := asSlice(record["diagnosis_codes"]); ok {
		rec.DiagnosisCodes = stringsOf(items)
	}

	if p, ok := record["patient"].(map[string]any); ok {
		rec.Patient = decodeClaimPatient(p)
	}

	return rec, nil
}

func decodeClaimPatient(p map[string]any) *model.ClaimPatient {
	out := &model.ClaimPatient{}
	if _, n, ok := numberOf(p["age"]); ok {
		age := int(n)
		out.Age = &age
	}
	if v, ok := p["gender"].(string); ok {
		out.Gender = v
	}
	if items, ok := asSlice(p["symptoms"]); ok {
		out.Symptoms = stringsOf(items)
	}
	if v, ok := p["vitals"].(map[string]any); ok {
		out.Vitals = NormalizeNumbers(v)
	}
	if v, ok := p["notes"].(string); ok {
		out.Notes = v
	}
	return out
}

// NormalizeNumbers returns a copy of m with json.Number and integer values
// converted to float64, recursing into nested maps and slices.
func NormalizeNumbers(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return NormalizeNumbers(t)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = normalizeValue(item)
		}
		return items
	case string, bool, nil:
		return t
	}
	if _, n, ok := numberOf(v); ok {
		return n
	}
	return v
}

func stringsOf(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
