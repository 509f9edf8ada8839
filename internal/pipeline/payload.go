package pipeline

import (
	"sort"
	"strings"

	"github.com/ppiankov/claimsagent/internal/model"
)

// diagnosisHistory maps ICD-10 category prefixes to the history terms the
// risk scorer knows. Longer prefixes win.
var diagnosisHistory = map[string]string{
	"I10": "hypertension",
	"I11": "hypertension",
	"I12": "hypertension",
	"I13": "hypertension",
	"I20": "heart_disease",
	"I21": "myocardial_infarction",
	"I22": "myocardial_infarction",
	"I25": "heart_disease",
	"I48": "atrial_fibrillation",
	"I50": "heart_failure",
	"I63": "stroke",
	"I64": "stroke",
	"E10": "diabetes",
	"E11": "diabetes",
	"E13": "diabetes",
	"E66": "obesity",
	"J44": "copd",
	"J45": "asthma",
	"N18": "chronic_kidney_disease",
	"C":   "cancer",
}

// HistoryFromDiagnoses turns diagnosis codes into medical-history terms,
// deduplicated and sorted. Unknown codes are dropped.
func HistoryFromDiagnoses(codes []string) []string {
	seen := make(map[string]bool)
	var history []string
	for _, code := range codes {
		term, ok := lookupDiagnosis(strings.ToUpper(strings.TrimSpace(code)))
		if !ok || seen[term] {
			continue
		}
		seen[term] = true
		history = append(history, term)
	}
	sort.Strings(history)
	return history
}

func lookupDiagnosis(code string) (string, bool) {
	for n := len(code); n > 0; n-- {
		if term, ok := diagnosisHistory[code[:n]]; ok {
			return term, true
		}
	}
	return "", false
}

// PayloadFromClaim builds the model request for claim's clinical block.
func PayloadFromClaim(claim model.ClaimRecord) model.PatientPayload {
	p := model.PatientPayload{
		PatientID:      claim.PatientID,
		MedicalHistory: HistoryFromDiagnoses(claim.DiagnosisCodes),
	}
	if cp := claim.Patient; cp != nil {
		p.Age = cp.Age
		p.Gender = cp.Gender
		p.Symptoms = cp.Symptoms
		p.Vitals = cp.Vitals
		p.PatientText = cp.Notes
	}
	return p
}
