// Package spectrogram renders audio into a fixed-size PNG with ffmpeg's
// showspectrumpic filter.
package spectrogram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"carcare/internal/config"

	"go.uber.org/zap"
)

const maxStderr = 4 << 10

// TranscodingError reports an ffmpeg failure. Details carries ffmpeg's own
// diagnostic output.
type TranscodingError struct {
	Reason  string
	Details string
	Err     error
}

func (e *TranscodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *TranscodingError) Unwrap() error { return e.Err }

// Image is a rendered spectrogram.
type Image struct {
	PNG    []byte
	Width  int
	Height int
}

func (i *Image) MIMEType() string { return "image/png" }

type Transcoder struct {
	ffmpeg      string
	width       int
	height      int
	scale       string
	fscale      string
	orientation string
	timeout     time.Duration
	workDir     string
	logger      *zap.SugaredLogger
}

// NewTranscoder resolves the ffmpeg binary up front so a missing install
// fails at startup instead of on the first upload. workDir holds the
// per-render scratch directories.
func NewTranscoder(cfg config.SpectrogramConfig, workDir string, logger *zap.SugaredLogger) (*Transcoder, error) {
	bin := cfg.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not available (%s): %w", bin, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid spectrogram size %dx%d", cfg.Width, cfg.Height)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Transcoder{
		ffmpeg:      resolved,
		width:       cfg.Width,
		height:      cfg.Height,
		scale:       cfg.Scale,
		fscale:      cfg.FreqScale,
		orientation: cfg.Orientation,
		timeout:     cfg.Timeout(),
		workDir:     workDir,
		logger:      logger,
	}, nil
}

// Filter returns the filtergraph passed to ffmpeg.
func (t *Transcoder) Filter() string {
	opts := []string{fmt.Sprintf("s=%dx%d", t.width, t.height), "legend=0"}
	if t.scale != "" {
		opts = append(opts, "scale="+t.scale)
	}
	if t.fscale != "" {
		opts = append(opts, "fscale="+t.fscale)
	}
	if t.orientation != "" {
		opts = append(opts, "orientation="+t.orientation)
	}
	return "showspectrumpic=" + strings.Join(opts, ":")
}

// Render transcodes the audio file at inputPath. The output PNG lives in a
// private scratch directory that is removed before Render returns.
func (t *Transcoder) Render(ctx context.Context, inputPath string) (*Image, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	scratch, err := os.MkdirTemp(t.workDir, "spectrogram-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			t.logger.Warnw("remove spectrogram scratch dir failed", "dir", scratch, "error", err)
		}
	}()
	outPath := filepath.Join(scratch, "spectrogram.png")

	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-lavfi", t.Filter(),
		"-frames:v", "1",
		outPath,
	}
	cmd := exec.CommandContext(ctx, t.ffmpeg, args...)
	cmd.WaitDelay = 2 * time.Second
	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		details := strings.TrimSpace(stderr.String())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &TranscodingError{Reason: "spectrogram generation interrupted", Details: details, Err: ctxErr}
		}
		t.logger.Warnw("ffmpeg failed", "input", filepath.Base(inputPath), "error", err, "stderr", details)
		return nil, &TranscodingError{Reason: "ffmpeg failed", Details: details, Err: err}
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, &TranscodingError{Reason: "ffmpeg produced no output", Details: strings.TrimSpace(stderr.String()), Err: err}
	}
	if err := t.validate(data); err != nil {
		return nil, err
	}
	t.logger.Debugw("spectrogram rendered",
		"input", filepath.Base(inputPath), "bytes", len(data), "duration", time.Since(start).String())
	return &Image{PNG: data, Width: t.width, Height: t.height}, nil
}

func (t *Transcoder) validate(data []byte) error {
	if len(data) == 0 {
		return &TranscodingError{Reason: "ffmpeg produced an empty image"}
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return &TranscodingError{Reason: "ffmpeg produced an unreadable image", Err: err}
	}
	if cfg.Width != t.width || cfg.Height != t.height {
		return &TranscodingError{
			Reason: fmt.Sprintf("spectrogram is %dx%d, want %dx%d", cfg.Width, cfg.Height, t.width, t.height),
		}
	}
	return nil
}

// IsTranscodingError reports whether err came from Render.
func IsTranscodingError(err error) bool {
	var te *TranscodingError
	return errors.As(err, &te)
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
