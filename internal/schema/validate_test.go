package schema

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validClaim() map[string]any {
	return map[string]any{
		"claim_id":    "CLM001",
		"patient_id":  "PAT001",
		"provider_id": "PRV001",
		"claim_date":  "2024-01-15",
		"amount":      1500.00,
		"status":      "pending",
	}
}

func decodeJSON(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewBufferString(s))
	dec.UseNumber()
	var m map[string]any
	require.NoError(t, dec.Decode(&m))
	return m
}

func TestValidate_ConformantClaim(t *testing.T) {
	assert.Empty(t, Validate(validClaim(), ClaimSchema()))
}

func TestValidate_ConformantClaimWithOptionalFields(t *testing.T) {
	rec := decodeJSON(t, `{
		"claim_id": "CLM001",
		"patient_id": "PAT001",
		"provider_id": "PRV001",
		"claim_date": "2024-01-15",
		"amount": 1500.00,
		"status": "approved",
		"service_date": "2024-01-10",
		"service_code": "99213",
		"diagnosis_codes": ["I10", "E11.9"],
		"patient": {"age": 45, "gender": "M", "symptoms": ["fatigue"], "vitals": {"heart_rate": 72}}
	}`)
	assert.Empty(t, Validate(rec, ClaimSchema()))
}

func TestValidate_MissingRequiredField(t *testing.T) {
	for _, name := range ClaimSchema().Required() {
		t.Run(name, func(t *testing.T) {
			rec := validClaim()
			delete(rec, name)

			errs := Validate(rec, ClaimSchema())
			require.Len(t, errs, 1)
			assert.Equal(t, name, errs[0].Field)
			assert.Equal(t, IssueMissing, errs[0].Issue)
			assert.Equal(t, "absent", errs[0].Actual)
		})
	}
}

func TestValidate_NullCountsAsMissing(t *testing.T) {
	rec := validClaim()
	rec["status"] = nil

	errs := Validate(rec, ClaimSchema())
	require.Len(t, errs, 1)
	assert.Equal(t, IssueMissing, errs[0].Issue)
	assert.Equal(t, "null", errs[0].Actual)
	assert.Equal(t, "CLM001", errs[0].ClaimID)
}

func TestValidate_IssuePriorityPerField(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
		issue Issue
	}{
		{"amount as string", "amount", "1500.00", IssueTypeMismatch},
		{"amount precision", "amount", 10.005, IssueFormatViolation},
		{"amount negative", "amount", -5.0, IssueOutOfRange},
		{"negative amount with bad precision reports format", "amount", -5.001, IssueFormatViolation},
		{"date wrong layout", "claim_date", "01/15/2024", IssueFormatViolation},
		{"date not on calendar", "claim_date", "2024-02-30", IssueFormatViolation},
		{"date as number", "claim_date", 20240115, IssueTypeMismatch},
		{"status unknown", "status", "archived", IssueOutOfRange},
		{"status wrong case", "status", "PENDING", IssueOutOfRange},
		{"claim id with injection", "claim_id", "CLM001'; DROP TABLE claims;--", IssueFormatViolation},
		{"patient id as object", "patient_id", map[string]any{"id": "x"}, IssueTypeMismatch},
		{"amount NaN", "amount", math.NaN(), IssueTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validClaim()
			rec[tt.field] = tt.value

			errs := Validate(rec, ClaimSchema())
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
			assert.Equal(t, tt.issue, errs[0].Issue)
		})
	}
}

func TestValidate_ReportsEveryFieldInSchemaOrder(t *testing.T) {
	rec := map[string]any{
		"claim_id":   "CLM009",
		"amount":     "lots",
		"status":     "unknown",
		"claim_date": "yesterday",
	}

	errs := Validate(rec, ClaimSchema())
	fields := make([]string, len(errs))
	for i, e := range errs {
		fields[i] = e.Field
		assert.Equal(t, "CLM009", e.ClaimID)
	}
	assert.Equal(t, []string{"patient_id", "provider_id", "claim_date", "amount", "status"}, fields)
}

func TestValidate_JSONNumberKeepsPrecision(t *testing.T) {
	rec := decodeJSON(t, `{"claim_id":"C1","patient_id":"P1","provider_id":"R1","claim_date":"2024-01-15","amount":99.999,"status":"paid"}`)

	errs := Validate(rec, ClaimSchema())
	require.Len(t, errs, 1)
	assert.Equal(t, IssueFormatViolation, errs[0].Issue)
	assert.Equal(t, "99.999", errs[0].Actual)

	rec = decodeJSON(t, `{"claim_id":"C1","patient_id":"P1","provider_id":"R1","claim_date":"2024-01-15","amount":99.990,"status":"paid"}`)
	assert.Empty(t, Validate(rec, ClaimSchema()))
}

func TestValidate_ArrayItems(t *testing.T) {
	rec := validClaim()
	rec["diagnosis_codes"] = []any{"I10", 42}
	errs := Validate(rec, ClaimSchema())
	require.Len(t, errs, 1)
	assert.Equal(t, IssueTypeMismatch, errs[0].Issue)
	assert.Equal(t, "element 1 is integer", errs[0].Actual)

	rec["diagnosis_codes"] = []string{"I10", "not-a-code"}
	errs = Validate(rec, ClaimSchema())
	require.Len(t, errs, 1)
	assert.Equal(t, IssueFormatViolation, errs[0].Issue)
	assert.Contains(t, errs[0].Actual, "element 1")
}

func TestValidate_NestedObjectUsesDottedPath(t *testing.T) {
	rec := validClaim()
	rec["patient"] = map[string]any{"age": 44.5, "gender": "F"}

	errs := Validate(rec, ClaimSchema())
	require.Len(t, errs, 1)
	assert.Equal(t, "patient.age", errs[0].Field)
	assert.Equal(t, IssueTypeMismatch, errs[0].Issue)

	rec["patient"] = map[string]any{"age": 150}
	errs = Validate(rec, ClaimSchema())
	require.Len(t, errs, 1)
	assert.Equal(t, IssueOutOfRange, errs[0].Issue)
	assert.Equal(t, "<= 130", errs[0].Expected)
}

func TestValidate_NeverPanics(t *testing.T) {
	inputs := []map[string]any{
		nil,
		{},
		{"claim_id": []any{nil, map[string]any{}}},
		{"amount": struct{}{}, "patient": "not an object"},
		{"diagnosis_codes": map[string]any{"0": "I10"}},
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			assert.NotEmpty(t, Validate(in, ClaimSchema()))
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	e := ValidationError{Field: "amount", Issue: IssueOutOfRange, Expected: ">= 0", Actual: "-1", ClaimID: "CLM001"}
	assert.Equal(t, "amount: out_of_range (expected >= 0, got -1) in claim CLM001", e.Error())
}

func TestQuote_TruncatesLongValues(t *testing.T) {
	long := bytes.Repeat([]byte("a"), 500)
	q := quote(string(long))
	assert.Less(t, len(q), 80)
}

func TestDecodeClaim(t *testing.T) {
	rec := decodeJSON(t, `{
		"claim_id": "CLM001",
		"patient_id": "PAT001",
		"provider_id": "PRV001",
		"claim_date": "2024-01-15",
		"amount": 1500.5,
		"status": "pending",
		"service_date": "2024-01-10",
		"diagnosis_codes": ["I10"],
		"patient": {"age": 67, "vitals": {"heart_rate": 88, "blood_pressure": "150/95"}}
	}`)

	claim, err := DecodeClaim(rec)
	require.NoError(t, err)
	assert.Equal(t, "CLM001", claim.ClaimID)
	assert.Equal(t, "2024-01-15", claim.ClaimDate.String())
	assert.Equal(t, "1500.50", claim.Amount.StringFixed(2))
	require.NotNil(t, claim.ServiceDate)
	assert.Equal(t, "2024-01-10", claim.ServiceDate.String())
	assert.Equal(t, []string{"I10"}, claim.DiagnosisCodes)
	require.NotNil(t, claim.Patient)
	require.NotNil(t, claim.Patient.Age)
	assert.Equal(t, 67, *claim.Patient.Age)
	assert.Equal(t, 88.0, claim.Patient.Vitals["heart_rate"])
}

func TestDecodeClaim_RefusesInvalidRecord(t *testing.T) {
	rec := validClaim()
	delete(rec, "provider_id")

	_, err := DecodeClaim(rec)
	require.Error(t, err)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "provider_id", ve.Field)
}
