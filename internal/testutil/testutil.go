// Package testutil holds fixtures shared by package tests: a synthetic engine
// recording, a stand-in ffmpeg binary and fake Gemini / YouTube servers.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// RodKnockWAV writes a mono 16-bit WAV of an idling engine with a periodic
// low knock, the pattern of a worn connecting-rod bearing.
func RodKnockWAV(t testing.TB, dir string, seconds float64) string {
	t.Helper()
	const sampleRate = 16000
	n := int(seconds * sampleRate)
	data := make([]int, n)
	knockEvery := sampleRate / 12 // twelve knocks per second
	for i := 0; i < n; i++ {
		ts := float64(i) / sampleRate
		v := 0.25 * math.Sin(2*math.Pi*30*ts) // idle firing frequency
		if pos := i % knockEvery; pos < sampleRate/100 {
			decay := math.Exp(-float64(pos) / 40)
			v += 0.6 * decay * math.Sin(2*math.Pi*180*ts)
		}
		data[i] = int(v * 32767 * 0.8)
	}

	path := filepath.Join(dir, "rod-knock.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	return path
}

// PNG returns an encoded width x height image.
func PNG(t testing.TB, width, height int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.SetGray(x, height/2, color.Gray{Y: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// FakeFFmpeg installs a shell script that behaves like ffmpeg for the
// spectrogram invocation: inputs starting with a RIFF header produce a PNG of
// the given size at the last argument, anything else fails the way ffmpeg
// does on undecodable input.
func FakeFFmpeg(t testing.TB, width, height int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg needs a POSIX shell")
	}
	dir := t.TempDir()
	fixture := filepath.Join(dir, "spectrogram.png")
	if err := os.WriteFile(fixture, PNG(t, width, height), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	script := fmt.Sprintf(`#!/bin/sh
in=""
prev=""
for arg in "$@"; do
	if [ "$prev" = "-i" ]; then in="$arg"; fi
	prev="$arg"
	out="$arg"
done
if ! head -c 4 "$in" | grep -q RIFF; then
	echo "$in: Invalid data found when processing input" >&2
	exit 1
fi
cp %q "$out"
`, fixture)
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}

// GeminiServer answers generateContent calls with the queued texts, one per
// call, repeating the last one. Status codes other than 200 may be queued
// with FailNext.
type GeminiServer struct {
	*httptest.Server
	texts    []string
	failures []int
	calls    atomic.Int32
}

func NewGeminiServer(t testing.TB, texts ...string) *GeminiServer {
	t.Helper()
	g := &GeminiServer{texts: texts}
	g.Server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.Close)
	return g
}

// FailNext makes the next len(codes) calls answer with those HTTP statuses.
func (g *GeminiServer) FailNext(codes ...int) {
	g.failures = append(g.failures, codes...)
}

func (g *GeminiServer) Calls() int { return int(g.calls.Load()) }

func (g *GeminiServer) serve(w http.ResponseWriter, r *http.Request) {
	call := int(g.calls.Add(1)) - 1
	_, _ = io.Copy(io.Discard, r.Body)
	w.Header().Set("Content-Type", "application/json")
	if call < len(g.failures) {
		w.WriteHeader(g.failures[call])
		fmt.Fprintf(w, `{"error":{"code":%d,"message":"simulated failure","status":"UNAVAILABLE"}}`, g.failures[call])
		return
	}
	idx := call - len(g.failures)
	if idx >= len(g.texts) {
		idx = len(g.texts) - 1
	}
	text := ""
	if idx >= 0 {
		text = g.texts[idx]
	}
	resp := map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": text}},
			},
			"finishReason": "STOP",
		}},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// YouTubeServer answers search.list with one video id, or fails with the
// status given to FailWith.
type YouTubeServer struct {
	*httptest.Server
	VideoID string
	status  atomic.Int32
	calls   atomic.Int32
	queries chan string
}

// FailWith makes every following call answer with code; 0 restores success.
func (y *YouTubeServer) FailWith(code int) { y.status.Store(int32(code)) }

func NewYouTubeServer(t testing.TB, videoID string) *YouTubeServer {
	t.Helper()
	y := &YouTubeServer{VideoID: videoID, queries: make(chan string, 64)}
	y.Server = httptest.NewServer(http.HandlerFunc(y.serve))
	t.Cleanup(y.Close)
	return y
}

func (y *YouTubeServer) Calls() int { return int(y.calls.Load()) }

// LastQuery returns the most recent q parameter, or "" when none arrived.
func (y *YouTubeServer) LastQuery() string {
	last := ""
	for {
		select {
		case q := <-y.queries:
			last = q
		default:
			return last
		}
	}
}

func (y *YouTubeServer) serve(w http.ResponseWriter, r *http.Request) {
	y.calls.Add(1)
	select {
	case y.queries <- r.URL.Query().Get("q"):
	default:
	}
	w.Header().Set("Content-Type", "application/json")
	if code := int(y.status.Load()); code != 0 {
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":"simulated failure"}}`, code)
		return
	}
	items := []map[string]any{}
	if y.VideoID != "" {
		items = append(items, map[string]any{
			"kind": "youtube#searchResult",
			"id":   map[string]any{"kind": "youtube#video", "videoId": y.VideoID},
		})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"kind": "youtube#searchListResponse", "items": items})
}

// DirEntries lists names in dir, failing the test on error.
func DirEntries(t testing.TB, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
