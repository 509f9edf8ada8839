package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for every date carried by a claim.
const DateLayout = "2006-01-02"

// ClaimRecord is a fully validated claim as returned by the extraction client.
// A ClaimRecord is never partially populated: it is either built from a
// conformant record or not built at all.
type ClaimRecord struct {
	ClaimID    string      `json:"claim_id"`
	PatientID  string      `json:"patient_id"`
	ProviderID string      `json:"provider_id"`
	ClaimDate  Date        `json:"claim_date"`
	Amount     Amount      `json:"amount"`
	Status     ClaimStatus `json:"status"`

	// Optional billing detail
	ServiceDate    *Date    `json:"service_date,omitempty"`
	ServiceCode    string   `json:"service_code,omitempty"`
	DiagnosisCodes []string `json:"diagnosis_codes,omitempty"`

	// Patient is the optional clinical block some claims systems attach.
	Patient *ClaimPatient `json:"patient,omitempty"`
}

// ClaimPatient carries the clinical context attached to a claim.
type ClaimPatient struct {
	Age      *int           `json:"age,omitempty"`
	Gender   string         `json:"gender,omitempty"`
	Symptoms []string       `json:"symptoms,omitempty"`
	Vitals   map[string]any `json:"vitals,omitempty"`
	Notes    string         `json:"notes,omitempty"`
}

// ClaimStatus is the lifecycle state of a claim in the claims system
type ClaimStatus string

const (
	StatusPending  ClaimStatus = "pending"
	StatusApproved ClaimStatus = "approved"
	StatusRejected ClaimStatus = "rejected"
	StatusPaid     ClaimStatus = "paid"
	StatusDenied   ClaimStatus = "denied"
)

// ClaimStatuses lists every accepted status in display order.
var ClaimStatuses = []ClaimStatus{StatusPending, StatusApproved, StatusRejected, StatusPaid, StatusDenied}

// Valid reports whether s is a known status.
func (s ClaimStatus) Valid() bool {
	for _, known := range ClaimStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Date is a calendar date encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// MarshalJSON encodes the date as a YYYY-MM-DD string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes a YYYY-MM-DD string.
func (d *Date) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("date must be a quoted YYYY-MM-DD string, got %s", b)
	}
	parsed, err := ParseDate(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Amount is a non-negative monetary value with at most two fractional digits.
// It encodes as a bare JSON number.
type Amount struct {
	decimal.Decimal
}

// NewAmount builds an Amount from its decimal string form.
func NewAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Decimal: d}, nil
}

// MarshalJSON encodes the amount as a number with two fractional digits.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(2)), nil
}
