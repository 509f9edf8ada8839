package infer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/ppiankov/claimsagent/internal/apperr"
	"github.com/ppiankov/claimsagent/internal/model"
	"github.com/ppiankov/claimsagent/internal/schema"
)

// DecodeRiskRequest reads a risk-classification request body. Both
// {"patient": {...}} and a bare patient object are accepted, and
// "vital_signs" is read as "vitals". Problems are reported as InvalidInput.
func DecodeRiskRequest(r io.Reader) (model.PatientPayload, error) {
	record, err := decodeObject(r)
	if err != nil {
		return model.PatientPayload{}, err
	}

	if inner, wrapped := record["patient"]; wrapped {
		obj, ok := inner.(map[string]any)
		if !ok {
			return model.PatientPayload{}, apperr.NewInvalidInput("patient", schema.IssueTypeMismatch, "object", fmt.Sprintf("%T", inner))
		}
		record = obj
	}

	return validatePatientRecord(record)
}

// SentimentInput is a decoded sentiment-analysis request.
type SentimentInput struct {
	PatientID string
	Text      string
}

// DecodeSentimentRequest reads {"patient_text": "..."} (or "text", as older
// clients send it) with an optional patient_id.
func DecodeSentimentRequest(r io.Reader) (SentimentInput, error) {
	record, err := decodeObject(r)
	if err != nil {
		return SentimentInput{}, err
	}

	field := "patient_text"
	raw, ok := record[field]
	if !ok {
		if alt, found := record["text"]; found {
			field, raw = "text", alt
		}
	}

	var in SentimentInput
	if id, present := record["patient_id"]; present && id != nil {
		s, ok := id.(string)
		if !ok {
			return SentimentInput{}, apperr.NewInvalidInput("patient_id", schema.IssueTypeMismatch, "string", fmt.Sprintf("%T", id))
		}
		if !schema.IdentifierPattern().MatchString(s) {
			// not echoed: the value may be hostile
			return SentimentInput{}, apperr.NewInvalidInput("patient_id", schema.IssueFormatViolation, "1-64 characters of [A-Za-z0-9_-]", fmt.Sprintf("%d characters", len(s)))
		}
		in.PatientID = s
	}

	switch v := raw.(type) {
	case nil:
		return SentimentInput{}, apperr.NewInvalidInput("patient_text", schema.IssueMissing, "string", "absent")
	case string:
		in.Text = v
	default:
		return SentimentInput{}, apperr.NewInvalidInput(field, schema.IssueTypeMismatch, "string", fmt.Sprintf("%T", v))
	}
	return in, nil
}

func decodeObject(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, apperr.NewInvalidInput("(body)", schema.IssueTypeMismatch, "JSON object", "malformed JSON")
	}
	record, ok := v.(map[string]any)
	if !ok {
		return nil, apperr.NewInvalidInput("(body)", schema.IssueTypeMismatch, "JSON object", fmt.Sprintf("%T", v))
	}
	return record, nil
}

// payloadRecord turns a typed payload back into the loosely typed form the
// schema validator works on.
func payloadRecord(p model.PatientPayload) (map[string]any, error) {
	if errs := nonFiniteVitals("vitals", p.Vitals); len(errs) > 0 {
		return nil, &apperr.InvalidInput{Errors: errs}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, apperr.NewInvalidInput("(payload)", schema.IssueTypeMismatch, "JSON-encodable payload", "unsupported value")
	}
	return decodeObject(bytes.NewReader(data))
}

// nonFiniteVitals reports NaN and infinite readings, which JSON cannot carry.
func nonFiniteVitals(path string, vitals map[string]any) []schema.ValidationError {
	keys := make([]string, 0, len(vitals))
	for k := range vitals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []schema.ValidationError
	for _, k := range keys {
		field := path + "." + k
		switch v := vitals[k].(type) {
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				errs = append(errs, nonFinite(field))
			}
		case float32:
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				errs = append(errs, nonFinite(field))
			}
		case map[string]any:
			errs = append(errs, nonFiniteVitals(field, v)...)
		}
	}
	return errs
}

func nonFinite(field string) schema.ValidationError {
	return schema.ValidationError{
		Field:    field,
		Issue:    schema.IssueTypeMismatch,
		Expected: "finite number",
		Actual:   "non-finite number",
	}
}

func validatePatientRecord(record map[string]any) (model.PatientPayload, error) {
	if _, ok := record["vitals"]; !ok {
		if vs, found := record["vital_signs"]; found {
			record["vitals"] = vs
		}
	}

	if errs := schema.ValidatePatient(record); len(errs) > 0 {
		id, _ := record["patient_id"].(string)
		if !schema.IdentifierPattern().MatchString(id) {
			for i := range errs {
				if errs[i].Field == "patient_id" && errs[i].Issue == schema.IssueFormatViolation {
					errs[i].Actual = fmt.Sprintf("%d characters", len(id))
				}
			}
			id = ""
		}
		return model.PatientPayload{}, &apperr.InvalidInput{PatientID: id, Errors: errs}
	}
	return schema.DecodePatient(record), nil
}
