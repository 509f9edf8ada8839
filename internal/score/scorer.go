package score

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ppiankov/claimsagent/internal/model"
)

// Severity grades a single signal
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SignalType names the component a signal came from
type SignalType string

const (
	SignalAge             SignalType = "age"
	SignalHistory         SignalType = "medical_history"
	SignalSymptom         SignalType = "symptom"
	SignalBloodPressure   SignalType = "blood_pressure"
	SignalHeartRate       SignalType = "heart_rate"
	SignalOxygen          SignalType = "oxygen_saturation"
	SignalTemperature     SignalType = "temperature"
	SignalRespiratoryRate SignalType = "respiratory_rate"
)

// Signal is one contribution to a risk score.
type Signal struct {
	Type        SignalType     `json:"type"`
	Factor      string         `json:"factor"`
	Points      float64        `json:"points"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// RiskScore is the transparent outcome of Scorer.Risk.
type RiskScore struct {
	Points          float64         `json:"points"`
	Level           model.RiskLevel `json:"level"`
	Confidence      float64         `json:"confidence"`
	Limited         bool            `json:"limited"`
	Signals         []Signal        `json:"signals"`
	Recommendations []string        `json:"recommendations"`
	Reasoning       string          `json:"reasoning"`
}

// Factors returns the signal factors in scoring order.
func (r RiskScore) Factors() []string {
	out := make([]string, 0, len(r.Signals))
	for _, s := range r.Signals {
		out = append(out, s.Factor)
	}
	return out
}

// Level thresholds on the summed points.
const (
	mediumThreshold   = 3.0
	highThreshold     = 8.0
	criticalThreshold = 11.0

	historyCap = 6.0

	limitedConfidence = 0.35
)

var highRiskConditions = map[string]bool{
	"heart_disease":           true,
	"coronary_artery_disease": true,
	"heart_failure":           true,
	"stroke":                  true,
	"copd":                    true,
	"cancer":                  true,
	"chronic_kidney_disease":  true,
	"myocardial_infarction":   true,
}

var moderateRiskConditions = map[string]bool{
	"hypertension":   true,
	"diabetes":       true,
	"asthma":         true,
	"obesity":        true,
	"hyperlipidemia": true,
	"smoking":        true,
}

var symptomWeights = map[string]float64{
	"chest_pain":          2,
	"shortness_of_breath": 1.5,
	"sweating":            1,
	"syncope":             3,
	"confusion":           2,
	"severe_bleeding":     3,
	"dizziness":           1,
	"palpitations":        1,
	"fever":               0.5,
	"cough":               0.5,
	"fatigue":             0.5,
	"headache":            0.5,
}

var symptomAliases = map[string]string{
	"sob":                  "shortness_of_breath",
	"difficulty_breathing": "shortness_of_breath",
	"trouble_breathing":    "shortness_of_breath",
	"breathlessness":       "shortness_of_breath",
	"diaphoresis":          "sweating",
	"fainting":             "syncope",
	"fainted":              "syncope",
	"bleeding":             "severe_bleeding",
}

// Scorer computes risk scores from patient payloads. It is stateless and
// deterministic: the same payload always yields the same score.
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Risk scores a patient payload.
func (s *Scorer) Risk(p model.PatientPayload) RiskScore {
	if !p.HasClinicalDetail() {
		return RiskScore{
			Level:           model.RiskLow,
			Confidence:      limitedConfidence,
			Limited:         true,
			Signals:         []Signal{},
			Recommendations: []string{"collect_medical_history", "record_vital_signs", "routine_follow_up"},
			Reasoning: "Limited data: only demographic fields were supplied, so the risk level " +
				"defaults to low pending medical history, symptoms and vital signs.",
		}
	}

	var signals []Signal

	// 1. Age
	signals = append(signals, s.scoreAge(p.Age)...)

	// 2. Medical history (capped)
	signals = append(signals, s.scoreHistory(p.MedicalHistory)...)

	// 3. Presenting symptoms
	signals = append(signals, s.scoreSymptoms(p.Symptoms)...)

	// 4. Vital signs
	signals = append(signals, s.scoreVitals(p.Vitals)...)

	total := 0.0
	for _, sig := range signals {
		total += sig.Points
	}
	total = math.Round(total*10) / 10

	level := levelFor(total)
	if signals == nil {
		signals = []Signal{}
	}

	return RiskScore{
		Points:          total,
		Level:           level,
		Confidence:      s.determineConfidence(len(signals)),
		Signals:         signals,
		Recommendations: recommendationsFor(level),
		Reasoning:       reasoning(total, level, signals),
	}
}

func (s *Scorer) scoreAge(age *int) []Signal {
	if age == nil {
		return nil
	}
	var points float64
	switch {
	case *age >= 80:
		points = 3
	case *age >= 65:
		points = 2
	default:
		return nil
	}
	return []Signal{{
		Type:        SignalAge,
		Factor:      "advanced_age",
		Points:      points,
		Severity:    SeverityWarning,
		Description: fmt.Sprintf("Age %d", *age),
		Data:        map[string]any{"age": *age},
	}}
}

// scoreHistory weights chronic conditions. The history total is capped so a
// long list of moderate conditions cannot outweigh acute findings alone.
func (s *Scorer) scoreHistory(history []string) []Signal {
	var signals []Signal
	remaining := historyCap
	for _, cond := range dedupe(history) {
		var points float64
		severity := SeverityWarning
		switch {
		case highRiskConditions[cond]:
			points = 3
			severity = SeverityCritical
		case moderateRiskConditions[cond]:
			points = 1.5
		default:
			continue
		}
		if remaining <= 0 {
			break
		}
		points = math.Min(points, remaining)
		remaining -= points
		signals = append(signals, Signal{
			Type:        SignalHistory,
			Factor:      cond,
			Points:      points,
			Severity:    severity,
			Description: "History of " + strings.ReplaceAll(cond, "_", " "),
			Data:        map[string]any{"cap": historyCap},
		})
	}
	return signals
}

func (s *Scorer) scoreSymptoms(symptoms []string) []Signal {
	var signals []Signal
	for _, sym := range dedupe(symptoms) {
		if alias, ok := symptomAliases[sym]; ok {
			sym = alias
		}
		points, ok := symptomWeights[sym]
		if !ok {
			continue
		}
		severity := SeverityInfo
		if points >= 2 {
			severity = SeverityCritical
		} else if points >= 1 {
			severity = SeverityWarning
		}
		signals = append(signals, Signal{
			Type:        SignalSymptom,
			Factor:      sym,
			Points:      points,
			Severity:    severity,
			Description: "Reports " + strings.ReplaceAll(sym, "_", " "),
		})
	}
	// aliases can collapse onto the same symptom
	return uniqueFactors(signals)
}

func (s *Scorer) scoreVitals(vitals map[string]any) []Signal {
	if len(vitals) == 0 {
		return nil
	}
	var signals []Signal

	if sys, dia, ok := BloodPressure(vitals); ok {
		if sig, ok := bloodPressureSignal(sys, dia); ok {
			signals = append(signals, sig)
		}
	}

	if hr, ok := VitalNumber(vitals, "heart_rate", "pulse", "hr"); ok {
		var points float64
		factor := "tachycardia"
		switch {
		case hr >= 130:
			points = 2.5
		case hr >= 100:
			points = 1.5
		case hr < 50:
			points, factor = 1.5, "bradycardia"
		}
		if points > 0 {
			signals = append(signals, vitalSignal(SignalHeartRate, factor, points, fmt.Sprintf("Heart rate %.0f bpm", hr), hr))
		}
	}

	if spo2, ok := VitalNumber(vitals, "oxygen_saturation", "spo2", "o2_saturation"); ok {
		switch {
		case spo2 < 90:
			signals = append(signals, vitalSignal(SignalOxygen, "hypoxemia", 3, fmt.Sprintf("SpO2 %.0f%%", spo2), spo2))
		case spo2 < 94:
			signals = append(signals, vitalSignal(SignalOxygen, "low_oxygen_saturation", 1.5, fmt.Sprintf("SpO2 %.0f%%", spo2), spo2))
		}
	}

	if temp, ok := VitalNumber(vitals, "temperature", "temp"); ok {
		if temp > 50 {
			temp = (temp - 32) * 5 / 9
		}
		switch {
		case temp >= 39.5:
			signals = append(signals, vitalSignal(SignalTemperature, "high_fever", 1.5, fmt.Sprintf("Temperature %.1f C", temp), temp))
		case temp >= 38:
			signals = append(signals, vitalSignal(SignalTemperature, "fever", 0.5, fmt.Sprintf("Temperature %.1f C", temp), temp))
		}
	}

	if rr, ok := VitalNumber(vitals, "respiratory_rate", "resp_rate", "rr"); ok {
		switch {
		case rr >= 30:
			signals = append(signals, vitalSignal(SignalRespiratoryRate, "severe_tachypnea", 2, fmt.Sprintf("Respiratory rate %.0f/min", rr), rr))
		case rr >= 22:
			signals = append(signals, vitalSignal(SignalRespiratoryRate, "tachypnea", 1, fmt.Sprintf("Respiratory rate %.0f/min", rr), rr))
		}
	}

	return signals
}

func bloodPressureSignal(sys, dia float64) (Signal, bool) {
	desc := fmt.Sprintf("Blood pressure %.0f/%.0f", sys, dia)
	var points float64
	factor := "high_blood_pressure"
	switch {
	case sys >= 180 || dia >= 120:
		points, factor = 3, "hypertensive_crisis"
	case sys >= 160 || dia >= 100:
		points = 2
	case sys >= 140 || dia >= 90:
		points = 1
	case sys < 90:
		points, factor = 2, "hypotension"
	default:
		return Signal{}, false
	}
	sig := vitalSignal(SignalBloodPressure, factor, points, desc, sys)
	sig.Data["diastolic"] = dia
	return sig, true
}

func vitalSignal(t SignalType, factor string, points float64, desc string, value float64) Signal {
	severity := SeverityWarning
	if points >= 2 {
		severity = SeverityCritical
	}
	return Signal{
		Type:        t,
		Factor:      factor,
		Points:      points,
		Severity:    severity,
		Description: desc,
		Data:        map[string]any{"value": value},
	}
}

// determineConfidence grows with the number of independent signals.
func (s *Scorer) determineConfidence(signalCount int) float64 {
	n := math.Min(float64(signalCount), 6)
	c := math.Min(0.6+0.05*n, 0.95)
	return math.Round(c*100) / 100
}

func levelFor(points float64) model.RiskLevel {
	switch {
	case points >= criticalThreshold:
		return model.RiskCritical
	case points >= highThreshold:
		return model.RiskHigh
	case points >= mediumThreshold:
		return model.RiskMedium
	}
	return model.RiskLow
}

func recommendationsFor(level model.RiskLevel) []string {
	switch level {
	case model.RiskCritical:
		return []string{"immediate_emergency_evaluation", "notify_on_call_physician"}
	case model.RiskHigh:
		return []string{"urgent_clinical_evaluation", "repeat_vital_signs"}
	case model.RiskMedium:
		return []string{"clinical_evaluation_within_24h"}
	}
	return []string{"routine_follow_up"}
}

func reasoning(total float64, level model.RiskLevel, signals []Signal) string {
	if len(signals) == 0 {
		return "No risk factors found in the supplied history, symptoms or vital signs."
	}
	ranked := append([]Signal(nil), signals...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Points > ranked[j].Points })
	parts := make([]string, 0, len(ranked))
	for _, sig := range ranked {
		parts = append(parts, fmt.Sprintf("%s (+%.1f)", sig.Factor, sig.Points))
	}
	return fmt.Sprintf("Risk score %.1f (%s) from %d factor(s): %s.", total, level, len(signals), strings.Join(parts, ", "))
}

// NormalizeTerm lowercases a history or symptom entry and joins words with
// underscores, so "Chest Pain" and "chest-pain" match "chest_pain".
func NormalizeTerm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		n := NormalizeTerm(item)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func uniqueFactors(signals []Signal) []Signal {
	seen := make(map[string]bool, len(signals))
	out := signals[:0]
	for _, sig := range signals {
		if seen[sig.Factor] {
			continue
		}
		seen[sig.Factor] = true
		out = append(out, sig)
	}
	return out
}
