package models

import "testing"

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"High":                           SeverityHigh,
		"high":                           SeverityHigh,
		" MEDIUM ":                       SeverityMedium,
		"Medium: Schedule Inspection":    SeverityMedium,
		"High: Stop Driving Immediately": SeverityHigh,
		"Low: Monitor":                   SeverityLow,
		"moderate":                       SeverityMedium,
	}
	for in, want := range cases {
		got, ok := ParseSeverity(in)
		if !ok || got != want {
			t.Fatalf("ParseSeverity(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	for _, in := range []string{"", "unknown", "42"} {
		if _, ok := ParseSeverity(in); ok {
			t.Fatalf("ParseSeverity(%q) should fail", in)
		}
	}
}

func TestNewDiagnosticRecordNeverNilIndicators(t *testing.T) {
	rec := NewDiagnosticRecord("u1", KindEngineSound, &Diagnosis{Fault: "rod knock", Severity: SeverityHigh}, nil)
	if rec.Indicators == nil {
		t.Fatalf("expected empty indicator slice")
	}
	if rec.SchemaVersion != DiagnosisSchemaVersion || rec.UserID != "u1" || rec.TutorialVideo != nil {
		t.Fatalf("unexpected record %+v", rec)
	}
}
