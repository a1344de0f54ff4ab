// Package diagnose runs one diagnosis request end to end: ingest the upload,
// render a spectrogram for audio, ask the model, look up a tutorial and
// persist the record.
package diagnose

import (
	"context"
	"errors"
	"io"
	"time"

	"carcare/internal/ingest"
	"carcare/internal/metrics"
	"carcare/internal/models"
	"carcare/internal/service/ai"
	"carcare/internal/spectrogram"
	"carcare/internal/storage"
	"carcare/internal/worker"

	"go.uber.org/zap"
)

const persistTimeout = 10 * time.Second

type Ingestor interface {
	IngestAudio(ctx context.Context, r io.Reader, filename, declaredType string) (*ingest.Upload, error)
	ReadImage(r io.Reader, declaredType string) (*ingest.Image, error)
	DecodeImage(encoded, declaredType string) (*ingest.Image, error)
}

type Transcoder interface {
	Render(ctx context.Context, inputPath string) (*spectrogram.Image, error)
}

type Diagnoser interface {
	Diagnose(ctx context.Context, kind models.Kind, image []byte, mimeType string) (*models.Diagnosis, string, error)
}

type TutorialFinder interface {
	Find(ctx context.Context, kind models.Kind, d *models.Diagnosis) *string
}

// Runner bounds concurrent transcodes; *worker.Pool implements it.
type Runner interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// Deps are the collaborators of a Pipeline. Runner and Tutorials are optional.
type Deps struct {
	Ingestor   Ingestor
	Transcoder Transcoder
	Runner     Runner
	Diagnoser  Diagnoser
	Tutorials  TutorialFinder
	Records    storage.RecordStore
}

type Pipeline struct {
	deps   Deps
	logger *zap.SugaredLogger
}

func New(deps Deps, logger *zap.SugaredLogger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{deps: deps, logger: logger.With("component", "diagnose")}
}

// AudioInput is an engine sound upload.
type AudioInput struct {
	UserID      string
	Body        io.Reader
	Filename    string
	ContentType string
}

// ImageInput is a dashboard photo, either raw bytes in Body or base64 text.
type ImageInput struct {
	UserID      string
	Body        io.Reader
	Base64      string
	ContentType string
}

// Result is a successful diagnosis. Saved is false when the record could not
// be written; the diagnosis is still valid in that case.
type Result struct {
	Diagnosis     *models.Diagnosis
	TutorialVideo *string
	Record        *models.DiagnosticRecord
	Saved         bool
	PersistErr    error
	Raw           string
}

// EngineSound diagnoses a recording of a running engine.
func (p *Pipeline) EngineSound(ctx context.Context, in AudioInput) (*Result, error) {
	r := p.begin(models.KindEngineSound, in.UserID)

	r.enter(StageIngesting)
	upload, err := p.deps.Ingestor.IngestAudio(ctx, in.Body, in.Filename, in.ContentType)
	if err != nil {
		return nil, r.fail(KindInput, err)
	}
	defer func() {
		if err := upload.Cleanup(); err != nil {
			p.logger.Warnw("upload cleanup failed", "path", upload.Path, "error", err)
		}
	}()
	r.log.Debugw("audio stored", "size", upload.Size, "sniffed", upload.SniffedType, "wav", upload.WAV != nil)

	r.enter(StageTranscoding)
	image, err := p.transcode(ctx, upload.Path)
	if err != nil {
		if errors.Is(err, worker.ErrPoolBusy) || errors.Is(err, worker.ErrPoolStopped) {
			return nil, r.fail(KindBusy, err)
		}
		if ctx.Err() != nil {
			return nil, r.fail(KindCanceled, err)
		}
		return nil, r.fail(KindTranscoding, err)
	}

	return p.finish(ctx, r, image.PNG, image.MIMEType())
}

// Dashboard diagnoses a photo of the instrument cluster.
func (p *Pipeline) Dashboard(ctx context.Context, in ImageInput) (*Result, error) {
	r := p.begin(models.KindDashboard, in.UserID)

	r.enter(StageIngesting)
	var (
		img *ingest.Image
		err error
	)
	if in.Body != nil {
		img, err = p.deps.Ingestor.ReadImage(in.Body, in.ContentType)
	} else {
		img, err = p.deps.Ingestor.DecodeImage(in.Base64, in.ContentType)
	}
	if err != nil {
		return nil, r.fail(KindInput, err)
	}
	return p.finish(ctx, r, img.Data, img.MIMEType)
}

func (p *Pipeline) transcode(ctx context.Context, path string) (*spectrogram.Image, error) {
	if p.deps.Runner == nil {
		return p.deps.Transcoder.Render(ctx, path)
	}
	var image *spectrogram.Image
	err := p.deps.Runner.Do(ctx, func(ctx context.Context) error {
		var err error
		image, err = p.deps.Transcoder.Render(ctx, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return image, nil
}

// finish runs the stages shared by both kinds once an image is available.
func (p *Pipeline) finish(ctx context.Context, r *run, image []byte, mimeType string) (*Result, error) {
	r.enter(StageDiagnosing)
	diagnosis, raw, err := p.deps.Diagnoser.Diagnose(ctx, r.kind, image, mimeType)
	if err != nil {
		if ai.IsContentError(err) {
			return nil, r.fail(KindAIContent, err)
		}
		return nil, r.fail(KindAIService, err)
	}
	res := &Result{Diagnosis: diagnosis, Raw: raw}

	r.enter(StageEnrichingTutorial)
	if p.deps.Tutorials != nil {
		res.TutorialVideo = p.deps.Tutorials.Find(ctx, r.kind, diagnosis)
	}

	r.enter(StagePersisting)
	rec := models.NewDiagnosticRecord(r.userID, r.kind, diagnosis, res.TutorialVideo)
	// persist even when the client has gone away
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := p.deps.Records.CreateRecord(persistCtx, rec); err != nil {
		r.log.Errorw("record not saved", "error", err)
		res.PersistErr = err
		r.done("unsaved")
		return res, nil
	}
	res.Record = rec
	res.Saved = true
	r.log.Infow("diagnosis saved", "record_id", rec.ID, "severity", diagnosis.Severity, "fault", diagnosis.Fault)
	r.done("ok")
	return res, nil
}

// run tracks the stage of a single request for logs and metrics.
type run struct {
	kind    models.Kind
	userID  string
	stage   Stage
	started time.Time
	log     *zap.SugaredLogger
}

func (p *Pipeline) begin(kind models.Kind, userID string) *run {
	r := &run{
		kind:    kind,
		userID:  userID,
		stage:   StageReceived,
		started: time.Now(),
		log:     p.logger.With("kind", kind, "user_id", userID),
	}
	r.log.Debugw("diagnosis received")
	return r
}

func (r *run) enter(next Stage) {
	r.observe()
	r.log.Debugw("stage", "from", r.stage, "to", next)
	r.stage = next
	r.started = time.Now()
}

func (r *run) observe() {
	metrics.StageDuration.WithLabelValues(string(r.kind), string(r.stage)).Observe(time.Since(r.started).Seconds())
}

func (r *run) fail(kind ErrorKind, err error) error {
	r.observe()
	stage := r.stage
	r.stage = StageFailed
	metrics.PipelineResults.WithLabelValues(string(r.kind), string(stage), string(kind)).Inc()
	if kind == KindInput {
		r.log.Infow("diagnosis rejected", "stage", stage, "error", err)
	} else {
		r.log.Warnw("diagnosis failed", "stage", stage, "reason", kind, "error", err)
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (r *run) done(outcome string) {
	r.observe()
	metrics.PipelineResults.WithLabelValues(string(r.kind), string(StageResponded), outcome).Inc()
	r.stage = StageResponded
}
