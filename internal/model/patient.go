package model

import (
	"fmt"
	"strings"
)

// PatientPayload is the model-request input derived from a claim (or supplied
// directly by a caller). Age is a pointer so that "absent" and "zero" differ.
type PatientPayload struct {
	PatientID      string         `json:"patient_id,omitempty"`
	Age            *int           `json:"age,omitempty"`
	Gender         string         `json:"gender,omitempty"`
	MedicalHistory []string       `json:"medical_history,omitempty"`
	Symptoms       []string       `json:"symptoms,omitempty"`
	Medications    []string       `json:"medications,omitempty"`
	Vitals         map[string]any `json:"vitals,omitempty"`
	PatientText    string         `json:"patient_text,omitempty"`
}

// HasClinicalDetail reports whether the payload carries anything beyond the
// demographic minimum (age and gender).
// Blank history and symptom entries do not count.
func (p PatientPayload) HasClinicalDetail() bool {
	return hasEntry(p.MedicalHistory) || hasEntry(p.Symptoms) || len(p.Vitals) > 0
}

func hasEntry(items []string) bool {
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

// Genders lists the accepted gender values after normalization.
var Genders = []string{"female", "male", "other", "unknown"}

var genderAliases = map[string]string{
	"f":       "female",
	"female":  "female",
	"woman":   "female",
	"m":       "male",
	"male":    "male",
	"man":     "male",
	"other":   "other",
	"x":       "other",
	"unknown": "unknown",
	"u":       "unknown",
}

// NormalizeGender maps accepted spellings onto Genders.
// The second return value is false for unrecognized input.
func NormalizeGender(g string) (string, bool) {
	norm, ok := genderAliases[lowerTrim(g)]
	return norm, ok
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Credentials identify the caller to the claims system. Secret material is
// never rendered by String or GoString.
type Credentials struct {
	UserID       string
	Token        string
	ClientID     string
	ClientSecret string
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{UserID:%q, Token:[REDACTED:%d], ClientID:%q, ClientSecret:[REDACTED:%d]}",
		c.UserID, len(c.Token), c.ClientID, len(c.ClientSecret))
}

// GoString keeps %#v from leaking secrets.
func (c Credentials) GoString() string {
	return c.String()
}

// Empty reports whether no credential material was supplied.
func (c Credentials) Empty() bool {
	return c.Token == "" && c.ClientID == "" && c.ClientSecret == ""
}
