package diagnose

import (
	"errors"
	"fmt"
)

// Stage is a step of a diagnosis request.
type Stage string

const (
	StageReceived          Stage = "received"
	StageIngesting         Stage = "ingesting"
	StageTranscoding       Stage = "transcoding"
	StageDiagnosing        Stage = "diagnosing"
	StageEnrichingTutorial Stage = "enriching_tutorial"
	StagePersisting        Stage = "persisting"
	StageResponded         Stage = "responded"
	StageFailed            Stage = "failed"
)

// ErrorKind classifies why a request failed.
type ErrorKind string

const (
	KindInput       ErrorKind = "input"
	KindTranscoding ErrorKind = "transcoding"
	KindAIService   ErrorKind = "ai_service"
	KindAIContent   ErrorKind = "ai_content"
	KindBusy        ErrorKind = "busy"
	// the caller went away before the work ran
	KindCanceled ErrorKind = "canceled"
)

// StageError is returned by the pipeline for every failed request. Err keeps
// the typed cause (ingest.InputError, spectrogram.TranscodingError,
// ai.ServiceError, ai.ContentError, worker.ErrPoolBusy).
type StageError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf returns the kind of a StageError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
