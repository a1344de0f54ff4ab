package models

import "time"

// DiagnosticRecord is one persisted diagnosis owned by a user. Records are
// written once and never updated.
type DiagnosticRecord struct {
	ID             string      `json:"id" bson:"_id"`
	UserID         string      `json:"userId" bson:"userId"`
	Kind           Kind        `json:"kind" bson:"kind"`
	TutorialVideo  *string     `json:"tutorialVideo" bson:"tutorialVideo"`
	Summary        string      `json:"summary" bson:"summary"`
	Fault          string      `json:"fault" bson:"fault"`
	Severity       Severity    `json:"severity" bson:"severity"`
	Status         string      `json:"status,omitempty" bson:"status,omitempty"`
	Recommendation string      `json:"recommendation" bson:"recommendation"`
	Indicators     []Indicator `json:"indicators" bson:"indicators"`
	Readings       *Readings   `json:"readings,omitempty" bson:"readings,omitempty"`
	SchemaVersion  string      `json:"schemaVersion" bson:"schemaVersion"`
	CreatedAt      time.Time   `json:"createdAt" bson:"createdAt"`
}

// NewDiagnosticRecord copies a diagnosis into a record for the given user.
func NewDiagnosticRecord(userID string, kind Kind, d *Diagnosis, tutorial *string) *DiagnosticRecord {
	indicators := d.Indicators
	if indicators == nil {
		indicators = []Indicator{}
	}
	return &DiagnosticRecord{
		UserID:         userID,
		Kind:           kind,
		TutorialVideo:  tutorial,
		Summary:        d.Summary,
		Fault:          d.Fault,
		Severity:       d.Severity,
		Status:         d.Status,
		Recommendation: d.Recommendation,
		Indicators:     indicators,
		Readings:       d.Readings,
		SchemaVersion:  DiagnosisSchemaVersion,
	}
}
