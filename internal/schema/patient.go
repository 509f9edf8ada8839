package schema

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/claimsagent/internal/model"
)

var bloodPressurePattern = regexp.MustCompile(`^\s*[0-9]{2,3}\s*/\s*[0-9]{2,3}\s*$`)

// MaxPatientText is the longest patient text accepted, in runes.
const MaxPatientText = 5000

// PatientRequestSchema is the schema of a risk-classification request. Only
// age and gender are required; everything else refines the assessment.
func PatientRequestSchema() Schema {
	return Schema{
		Name: "patient",
		Fields: []Field{
			idField("patient_id", false),
			{Name: "age", Type: TypeInteger, Required: true, Min: bound(0), Max: bound(130)},
			{Name: "gender", Type: TypeString, Required: true, MaxLength: 32},
			{Name: "medical_history", Type: TypeArray, MaxLength: 50, Items: &Field{Type: TypeString}},
			{Name: "symptoms", Type: TypeArray, MaxLength: 50, Items: &Field{Type: TypeString}},
			{Name: "medications", Type: TypeArray, MaxLength: 50, Items: &Field{Type: TypeString}},
			{Name: "vitals", Type: TypeObject, Properties: vitalsSchema()},
			{Name: "patient_text", Type: TypeString, MaxLength: MaxPatientText},
		},
	}
}

// vitalsSchema bounds each vital sign to what a living patient can present.
func vitalsSchema() *Schema {
	return &Schema{
		Name: "vitals",
		Fields: []Field{
			{Name: "blood_pressure", Type: TypeString, Pattern: bloodPressurePattern, PatternDesc: "systolic/diastolic (e.g. 120/80)"},
			{Name: "systolic", Type: TypeNumber, Min: bound(50), Max: bound(300)},
			{Name: "diastolic", Type: TypeNumber, Min: bound(20), Max: bound(200)},
			{Name: "heart_rate", Type: TypeNumber, Min: bound(20), Max: bound(250)},
			{Name: "oxygen_saturation", Type: TypeNumber, Min: bound(0), Max: bound(100)},
			{Name: "temperature", Type: TypeNumber, Min: bound(25), Max: bound(115)},
			{Name: "respiratory_rate", Type: TypeNumber, Min: bound(0), Max: bound(80)},
		},
	}
}

// ValidatePatient checks a decoded risk request. Beyond the structural
// schema it checks that gender is a recognized value and that a
// "systolic/diastolic" reading is within the same bounds as the separate
// systolic and diastolic fields. Violations come back in schema order.
func ValidatePatient(record map[string]any) []ValidationError {
	s := PatientRequestSchema()
	errs := Validate(record, s)

	reported := make(map[string]bool, len(errs))
	for _, e := range errs {
		reported[e.Field] = true
	}

	if g, ok := record["gender"].(string); ok && !reported["gender"] {
		if _, known := model.NormalizeGender(g); !known {
			errs = append(errs, ValidationError{
				Field:    "gender",
				Issue:    IssueOutOfRange,
				Expected: "one of [" + strings.Join(model.Genders, ", ") + "]",
				Actual:   quote(g),
			})
		}
	}

	if vitals, ok := record["vitals"].(map[string]any); ok && !reported["vitals"] && !reported["vitals.blood_pressure"] {
		if bp, ok := vitals["blood_pressure"].(string); ok {
			if e, bad := checkBloodPressure(bp); bad {
				errs = append(errs, e)
			}
		}
	}

	order := fieldOrder(s, "")
	sort.SliceStable(errs, func(i, j int) bool { return order[errs[i].Field] < order[errs[j].Field] })
	return errs
}

func checkBloodPressure(bp string) (ValidationError, bool) {
	sysText, diaText, _ := strings.Cut(bp, "/")
	sys, _ := strconv.ParseFloat(strings.TrimSpace(sysText), 64)
	dia, _ := strconv.ParseFloat(strings.TrimSpace(diaText), 64)
	if sys >= 50 && sys <= 300 && dia >= 20 && dia <= 200 && dia < sys {
		return ValidationError{}, false
	}
	return ValidationError{
		Field:    "vitals.blood_pressure",
		Issue:    IssueOutOfRange,
		Expected: "systolic 50-300 over diastolic 20-200, systolic above diastolic",
		Actual:   quote(bp),
	}, true
}

func fieldOrder(s Schema, prefix string) map[string]int {
	order := make(map[string]int)
	var walk func(s Schema, prefix string)
	walk = func(s Schema, prefix string) {
		for _, f := range s.Fields {
			order[prefix+f.Name] = len(order)
			if f.Properties != nil {
				walk(*f.Properties, prefix+f.Name+".")
			}
		}
	}
	walk(s, prefix)
	return order
}

// DecodePatient builds a payload from a record that passed ValidatePatient.
// Gender is normalized and history and symptom entries are kept as given.
func DecodePatient(record map[string]any) model.PatientPayload {
	var p model.PatientPayload
	if v, ok := record["patient_id"].(string); ok {
		p.PatientID = v
	}
	if _, n, ok := numberOf(record["age"]); ok {
		age := int(n)
		p.Age = &age
	}
	if v, ok := record["gender"].(string); ok {
		p.Gender, _ = model.NormalizeGender(v)
	}
	if items, ok := asSlice(record["medical_history"]); ok {
		p.MedicalHistory = stringsOf(items)
	}
	if items, ok := asSlice(record["symptoms"]); ok {
		p.Symptoms = stringsOf(items)
	}
	if items, ok := asSlice(record["medications"]); ok {
		p.Medications = stringsOf(items)
	}
	if v, ok := record["vitals"].(map[string]any); ok && len(v) > 0 {
		p.Vitals = NormalizeNumbers(v)
	}
	if v, ok := record["patient_text"].(string); ok {
		p.PatientText = v
	}
	return p
}
