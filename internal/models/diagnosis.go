package models

import "strings"

// DiagnosisSchemaVersion identifies the JSON shape the model is asked to produce.
const DiagnosisSchemaVersion = "v1"

// Kind names the input a diagnosis was produced from.
type Kind string

const (
	KindEngineSound Kind = "engine_sound"
	KindDashboard   Kind = "dashboard"
)

func (k Kind) Valid() bool {
	return k == KindEngineSound || k == KindDashboard
}

type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

// ParseSeverity accepts the labels models tend to return ("high",
// "High: Stop Driving Immediately", "MEDIUM") and maps them onto the enum.
func ParseSeverity(s string) (Severity, bool) {
	label := strings.ToLower(strings.TrimSpace(s))
	if idx := strings.IndexAny(label, ":-("); idx > 0 {
		label = strings.TrimSpace(label[:idx])
	}
	switch label {
	case "high", "critical", "severe":
		return SeverityHigh, true
	case "medium", "moderate":
		return SeverityMedium, true
	case "low", "minor", "none", "ok":
		return SeverityLow, true
	}
	return "", false
}

// Indicator is a single warning light or audible anomaly.
type Indicator struct {
	Name           string `json:"name" bson:"name"`
	Status         string `json:"status,omitempty" bson:"status,omitempty"`
	Meaning        string `json:"meaning,omitempty" bson:"meaning,omitempty"`
	Recommendation string `json:"recommendation,omitempty" bson:"recommendation,omitempty"`
}

// Readings are gauge values read off a dashboard photo.
type Readings struct {
	Speed      string `json:"speed,omitempty" bson:"speed,omitempty"`
	Odometer   string `json:"odometer,omitempty" bson:"odometer,omitempty"`
	FuelLevel  string `json:"fuelLevel,omitempty" bson:"fuelLevel,omitempty"`
	EngineTemp string `json:"engineTemp,omitempty" bson:"engineTemp,omitempty"`
}

// Diagnosis is the structured fault assessment parsed from the model reply.
type Diagnosis struct {
	Summary        string      `json:"summary"`
	Fault          string      `json:"fault"`
	Severity       Severity    `json:"severity"`
	Status         string      `json:"status,omitempty"`
	Recommendation string      `json:"recommendation"`
	Indicators     []Indicator `json:"indicators,omitempty"`
	Readings       *Readings   `json:"readings,omitempty"`
}
