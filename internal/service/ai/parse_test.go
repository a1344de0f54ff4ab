package ai

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"carcare/internal/models"
)

func TestStripFencesRoundTrip(t *testing.T) {
	cleaned := StripFences("```json\n{\"a\":1}\n```")
	var got map[string]int
	if err := json.Unmarshal([]byte(cleaned), &got); err != nil {
		t.Fatalf("unmarshal %q: %v", cleaned, err)
	}
	if got["a"] != 1 || len(got) != 1 {
		t.Fatalf("got %v", got)
	}
	if StripFences("  ```JSON\n{}\n```  ") != "{}" {
		t.Fatalf("upper-case fence not stripped")
	}
}

func TestParseDiagnosis(t *testing.T) {
	raw := "```json\n" + `{
		"summary": "A deep knock that rises with RPM.",
		"fault": "Rod knock",
		"severity": "high",
		"status": "High: Stop Driving Immediately",
		"recommendation": "Stop driving and have the bottom end inspected.",
		"indicators": [{"name": "Knocking at 12 Hz", "status": "ON", "meaning": "bearing wear"}],
		"readings": {}
	}` + "\n```"
	d, err := ParseDiagnosis(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Fault != "Rod knock" || d.Severity != models.SeverityHigh {
		t.Fatalf("unexpected diagnosis %+v", d)
	}
	if len(d.Indicators) != 1 || d.Indicators[0].Status != "ON" {
		t.Fatalf("indicators %+v", d.Indicators)
	}
	if d.Readings != nil {
		t.Fatalf("empty readings should be dropped")
	}
}

func TestParseDiagnosisSeverityFromStatus(t *testing.T) {
	d, err := ParseDiagnosis(`{"fault": "Belt squeal", "status": "Medium: Schedule Inspection Soon"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Severity != models.SeverityMedium {
		t.Fatalf("severity = %q", d.Severity)
	}
}

func TestParseDiagnosisContentErrors(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		rejected bool
	}{
		{name: "not json", raw: "The engine sounds fine to me!"},
		{name: "truncated", raw: "```json\n{\"fault\": \"Rod"},
		{name: "trailing text", raw: `{"fault": "Rod knock", "severity": "High"} hope this helps`},
		{name: "empty", raw: "``` ```"},
		{name: "missing fault", raw: `{"summary": "all good", "severity": "Low"}`},
		{name: "bad severity", raw: `{"fault": "Rod knock", "severity": "catastrophic"}`},
		{name: "model rejection", raw: `{"error": "not an engine sound"}`, rejected: true},
		{name: "rejection next to a fault", raw: `{"error": "not an engine sound", "fault": "Rod knock", "severity": "High"}`, rejected: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDiagnosis(tc.raw)
			var ce *ContentError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ContentError, got %v", err)
			}
			if ce.Raw != tc.raw {
				t.Fatalf("raw text not preserved: %q", ce.Raw)
			}
			if ce.Rejected != tc.rejected {
				t.Fatalf("Rejected = %v", ce.Rejected)
			}
			if tc.rejected && ce.Reason != "not an engine sound" {
				t.Fatalf("reason = %q", ce.Reason)
			}
		})
	}
}

func TestPromptPerKind(t *testing.T) {
	engine := Prompt(models.KindEngineSound)
	dash := Prompt(models.KindDashboard)
	if engine == dash {
		t.Fatalf("prompts should differ per kind")
	}
	if !strings.Contains(engine, "not contain a clear engine sound") || !strings.Contains(dash, "not a clear car dashboard") {
		t.Fatalf("prompts should describe the rejection reply")
	}
	for _, p := range []string{engine, dash} {
		if !strings.Contains(p, models.DiagnosisSchemaVersion) {
			t.Fatalf("prompt missing schema version: %s", p)
		}
	}
}
