package prescription

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/carelink/carelink/internal/platform/apperr"
)

// dosagePattern accepts a decimal amount followed by a mass unit, e.g.
// "1 mg", "0.5mg", "150 mcg".
var dosagePattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*(mg|mcg)$`)

// maxSingleDoseMg caps the single-dose strength for medications with a
// known safety ceiling. Doses above the cap are rejected outright, not
// warned about.
var maxSingleDoseMg = map[string]float64{
	"varenicline": 1.0,
}

// polypharmacyThreshold is the number of prescriptions the patient must
// already hold active for a new one to attach a polypharmacy warning.
const polypharmacyThreshold = 5

// parseDosage validates the dosage string and returns the strength in
// milligrams.
func parseDosage(dosage string) (float64, error) {
	m := dosagePattern.FindStringSubmatch(strings.TrimSpace(strings.ToLower(dosage)))
	if m == nil {
		return 0, apperr.Validation("dosage must be a number followed by mg or mcg, e.g. \"1 mg\"")
	}
	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, apperr.Validation("invalid dosage amount")
	}
	if m[2] == "mcg" {
		amount /= 1000
	}
	if amount <= 0 {
		return 0, apperr.Validation("dosage must be greater than zero")
	}
	return amount, nil
}

// validateDosage enforces the format and any per-medication cap.
func validateDosage(medicationName, dosage string) error {
	mg, err := parseDosage(dosage)
	if err != nil {
		return err
	}
	med := strings.ToLower(strings.TrimSpace(medicationName))
	if limit, ok := maxSingleDoseMg[med]; ok && mg > limit {
		return apperr.Validation(fmt.Sprintf("%s exceeds the maximum single dose of %g mg", medicationName, limit))
	}
	return nil
}
