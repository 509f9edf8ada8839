package score

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// VitalNumber returns the first of keys present in vitals as a finite number.
// Numeric strings are accepted.
func VitalNumber(vitals map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := vitals[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := Number(v); ok {
			return f, true
		}
	}
	return 0, false
}

// BloodPressure reads systolic and diastolic pressure from either a
// "blood_pressure" entry ("120/80" or {"systolic":..,"diastolic":..}) or
// separate systolic/diastolic keys.
func BloodPressure(vitals map[string]any) (systolic, diastolic float64, ok bool) {
	switch bp := vitals["blood_pressure"].(type) {
	case string:
		return ParseBloodPressure(bp)
	case map[string]any:
		sys, okS := VitalNumber(bp, "systolic")
		dia, okD := VitalNumber(bp, "diastolic")
		return sys, dia, okS && okD
	}
	sys, okS := VitalNumber(vitals, "systolic", "systolic_bp")
	dia, okD := VitalNumber(vitals, "diastolic", "diastolic_bp")
	return sys, dia, okS && okD
}

// ParseBloodPressure parses "systolic/diastolic".
func ParseBloodPressure(s string) (systolic, diastolic float64, ok bool) {
	sysText, diaText, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		return 0, 0, false
	}
	sys, err1 := strconv.ParseFloat(strings.TrimSpace(sysText), 64)
	dia, err2 := strconv.ParseFloat(strings.TrimSpace(diaText), 64)
	if err1 != nil || err2 != nil || !finite(sys) || !finite(dia) {
		return 0, 0, false
	}
	return sys, dia, true
}

// Number converts decoded JSON numbers (and numeric strings) to float64.
func Number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return f, finite(f)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
