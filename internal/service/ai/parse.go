package ai

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"carcare/internal/models"
)

var fencePattern = regexp.MustCompile("(?i)```(?:json)?")

// StripFences removes markdown code fences and surrounding whitespace.
func StripFences(raw string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(raw, ""))
}

type reply struct {
	models.Diagnosis
	Error *string `json:"error"`
}

// ParseDiagnosis turns the model's reply text into a Diagnosis. Every
// failure is a *ContentError carrying raw.
func ParseDiagnosis(raw string) (*models.Diagnosis, error) {
	cleaned := StripFences(raw)
	if cleaned == "" {
		return nil, &ContentError{Reason: "model returned an empty response", Raw: raw}
	}

	var r reply
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, &ContentError{Reason: "model returned invalid JSON", Raw: raw, Err: err}
	}

	// a non-empty error wins over any diagnosis fields next to it
	if r.Error != nil {
		reason := strings.TrimSpace(*r.Error)
		if reason != "" || strings.TrimSpace(r.Fault) == "" {
			if reason == "" {
				reason = "the model could not analyse the input"
			}
			return nil, &ContentError{Reason: reason, Raw: raw, Rejected: true}
		}
	}

	d := r.Diagnosis
	d.Fault = strings.TrimSpace(d.Fault)
	if d.Fault == "" {
		return nil, &ContentError{Reason: "model response is missing the fault", Raw: raw}
	}
	sev, ok := models.ParseSeverity(string(d.Severity))
	if !ok {
		// older prompts only produced the status label
		sev, ok = models.ParseSeverity(d.Status)
	}
	if !ok {
		return nil, &ContentError{Reason: "model response has an unknown severity " + strconv.Quote(string(d.Severity)), Raw: raw}
	}
	d.Severity = sev
	if d.Readings != nil && *d.Readings == (models.Readings{}) {
		d.Readings = nil
	}
	return &d, nil
}
