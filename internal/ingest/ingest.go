// Package ingest accepts uploaded media. Audio is written to a uniquely
// named transient file for the transcoder; images are kept in memory.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InputError is a client mistake: missing file, wrong type, too large.
type InputError struct {
	Reason   string
	TooLarge bool
}

func (e *InputError) Error() string { return e.Reason }

func inputErrorf(format string, args ...any) *InputError {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}

// Upload is an audio file persisted for the duration of one request.
type Upload struct {
	Path         string
	Filename     string
	DeclaredType string
	SniffedType  string
	Size         int64
	WAV          *WAVInfo
}

// WAVInfo is filled when the upload carries a readable RIFF/WAVE header.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Cleanup removes the transient file. Safe to call more than once.
func (u *Upload) Cleanup() error {
	if u == nil || u.Path == "" {
		return nil
	}
	if err := os.Remove(u.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload %s: %w", u.Path, err)
	}
	return nil
}

// Image is an uploaded dashboard photo.
type Image struct {
	Data     []byte
	MIMEType string
}

const uploadPrefix = "upload-"

var audioExtensions = map[string]bool{
	".wav": true, ".wave": true, ".mp3": true, ".m4a": true, ".mp4": true, ".aac": true,
	".ogg": true, ".oga": true, ".opus": true, ".flac": true, ".3gp": true, ".webm": true,
	".amr": true, ".caf": true, ".aiff": true, ".aif": true,
}

// containers the mobile recorders produce that declare a video/ type
var audioContainerTypes = map[string]bool{
	"video/mp4": true, "video/3gpp": true, "video/webm": true, "video/quicktime": true,
	"application/ogg": true,
}

type Ingestor struct {
	dir      string
	maxBytes int64
	logger   *zap.SugaredLogger
}

// New prepares dir for transient uploads.
func New(dir string, maxBytes int64, logger *zap.SugaredLogger) (*Ingestor, error) {
	if dir == "" {
		return nil, errors.New("temp dir must be configured")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Ingestor{dir: dir, maxBytes: maxBytes, logger: logger}, nil
}

func (i *Ingestor) Dir() string { return i.dir }

func (i *Ingestor) MaxBytes() int64 { return i.maxBytes }

// IngestAudio validates the declared type and writes r to a new file. Content
// is not decoded here beyond a WAV header probe; undecodable audio is the
// transcoder's to report.
func (i *Ingestor) IngestAudio(ctx context.Context, r io.Reader, filename, declaredType string) (*Upload, error) {
	if r == nil {
		return nil, inputErrorf("no audio file uploaded")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	mediaType := normalizeMediaType(declaredType)
	if !isAudio(mediaType, ext) {
		return nil, inputErrorf("unsupported audio type %q", firstNonEmpty(mediaType, ext, "unknown"))
	}

	path := filepath.Join(i.dir, uploadPrefix+uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	upload := &Upload{Path: path, Filename: filename, DeclaredType: mediaType}
	keep := false
	defer func() {
		f.Close()
		if !keep {
			upload.Cleanup()
		}
	}()

	limit := i.maxBytes
	if limit <= 0 {
		limit = 1 << 62
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if n > limit {
		return nil, &InputError{Reason: fmt.Sprintf("audio file exceeds %d bytes", limit), TooLarge: true}
	}
	if n == 0 {
		return nil, inputErrorf("uploaded audio file is empty")
	}
	upload.Size = n

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}
	head := make([]byte, 512)
	hn, _ := io.ReadFull(f, head)
	upload.SniffedType = http.DetectContentType(head[:hn])
	if upload.SniffedType == "audio/wave" {
		upload.WAV = probeWAV(f)
	}

	keep = true
	i.logger.Debugw("audio upload stored",
		"file", filename, "size", n, "declared", mediaType, "sniffed", upload.SniffedType)
	return upload, nil
}

func probeWAV(f *os.File) *WAVInfo {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil
	}
	info := &WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if d, err := dec.Duration(); err == nil {
		info.Duration = d
	}
	return info
}

// ReadImage reads a dashboard photo into memory and checks it is an image.
func (i *Ingestor) ReadImage(r io.Reader, declaredType string) (*Image, error) {
	if r == nil {
		return nil, inputErrorf("no image uploaded")
	}
	limit := i.maxBytes
	if limit <= 0 {
		limit = 1 << 62
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, &InputError{Reason: fmt.Sprintf("image exceeds %d bytes", limit), TooLarge: true}
	}
	return checkImage(data, declaredType)
}

// DecodeImage accepts the base64 form the mobile client posts, with or
// without a data: URL prefix.
func (i *Ingestor) DecodeImage(encoded, declaredType string) (*Image, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, inputErrorf("no image uploaded")
	}
	if strings.HasPrefix(encoded, "data:") {
		if comma := strings.IndexByte(encoded, ','); comma > 0 {
			meta := strings.TrimSuffix(strings.TrimPrefix(encoded[:comma], "data:"), ";base64")
			if declaredType == "" {
				declaredType = meta
			}
			encoded = encoded[comma+1:]
		}
	}
	if i.maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(encoded))) > i.maxBytes+2 {
		return nil, &InputError{Reason: fmt.Sprintf("image exceeds %d bytes", i.maxBytes), TooLarge: true}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, inputErrorf("image is not valid base64")
	}
	if i.maxBytes > 0 && int64(len(data)) > i.maxBytes {
		return nil, &InputError{Reason: fmt.Sprintf("image exceeds %d bytes", i.maxBytes), TooLarge: true}
	}
	return checkImage(data, declaredType)
}

func checkImage(data []byte, declaredType string) (*Image, error) {
	if len(data) == 0 {
		return nil, inputErrorf("uploaded image is empty")
	}
	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		return &Image{Data: data, MIMEType: sniffed}, nil
	}
	// HEIC photos are not recognised by the sniffer
	declared := normalizeMediaType(declaredType)
	if declared == "image/heic" || declared == "image/heif" {
		return &Image{Data: data, MIMEType: declared}, nil
	}
	return nil, inputErrorf("unsupported image type %q", firstNonEmpty(declared, sniffed))
}

func normalizeMediaType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return mediaType
}

func isAudio(mediaType, ext string) bool {
	if strings.HasPrefix(mediaType, "audio/") || audioContainerTypes[mediaType] {
		return true
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		return audioExtensions[ext]
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
