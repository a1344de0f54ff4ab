package ai

import (
	"fmt"

	"carcare/internal/models"
)

type promptSubject struct {
	input     string
	task      string
	rejection string
	extra     string
}

var subjects = map[models.Kind]promptSubject{
	models.KindEngineSound: {
		input: "a spectrogram (frequency over time, log intensity) rendered from a recording of a car engine",
		task: "Identify mechanical faults audible in the recording such as knocking, ticking, belt squeal, " +
			"misfire or exhaust leaks. Report each distinct sound pattern as an indicator.",
		rejection: "The audio file does not contain a clear engine sound.",
		extra:     `Leave "readings" out.`,
	},
	models.KindDashboard: {
		input: "a photo of a car dashboard",
		task: "Identify every illuminated warning light and read the visible gauges. Report each light " +
			"as an indicator with status ON or OFF.",
		rejection: "The uploaded image is not a clear car dashboard.",
		extra:     `Fill "readings" with the values you can read; use "" for unreadable gauges.`,
	},
}

const promptTemplate = `You are an experienced automotive diagnostic technician.
The attached image is %s.
%s

Reply with a single JSON object and nothing else, using exactly this schema (version %s):
{
  "summary": "one or two sentences a car owner understands",
  "fault": "short name of the most likely fault",
  "severity": "High" | "Medium" | "Low",
  "status": "Low: Monitor" | "Medium: Schedule Inspection Soon" | "High: Stop Driving Immediately",
  "recommendation": "what the owner should do next",
  "indicators": [{"name": "", "status": "", "meaning": "", "recommendation": ""}],
  "readings": {"speed": "", "odometer": "", "fuelLevel": "", "engineTemp": ""}
}
%s
If the image is not what is described above, reply only with {"error": "%s"}.`

// Prompt returns the fixed instruction for kind.
func Prompt(kind models.Kind) string {
	s, ok := subjects[kind]
	if !ok {
		s = subjects[models.KindEngineSound]
	}
	return fmt.Sprintf(promptTemplate, s.input, s.task, models.DiagnosisSchemaVersion, s.extra, s.rejection)
}
