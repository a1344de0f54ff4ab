package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"carcare/internal/auth"
	"carcare/internal/config"
	"carcare/internal/idempotency"
	"carcare/internal/ingest"
	"carcare/internal/models"
	"carcare/internal/service/ai"
	"carcare/internal/service/diagnose"
	"carcare/internal/spectrogram"
	"carcare/internal/storage"
	"carcare/internal/testutil"
	"carcare/internal/tutorial"
	"carcare/internal/worker"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/option"
)

const rodKnockReply = "```json\n" + `{"summary":"Rhythmic knocking that rises with RPM","fault":"Rod knock","severity":"High","status":"High: Stop Driving Immediately","recommendation":"Stop driving and have the bearings inspected"}` + "\n```"

const dashboardReply = `{"summary":"Oil pressure light is on","fault":"Low oil pressure","severity":"medium","recommendation":"Check the oil level","indicators":[{"name":"Oil pressure","status":"on"}],"readings":{"speed":"0 km/h"}}`

type testEnv struct {
	router  *gin.Engine
	store   *storage.SQLStore
	gemini  *testutil.GeminiServer
	youtube *testutil.YouTubeServer
	tempDir string
}

func newTestServer(t *testing.T, replies ...string) *testEnv {
	t.Helper()
	return newTestServerWithLimit(t, 2<<20, replies...)
}

func newTestServerWithLimit(t *testing.T, maxUpload int64, replies ...string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	cfg := config.Default()
	cfg.Databases["sqlite3"] = config.DatabaseConfig{DSN: ":memory:"}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	store := storage.NewSQLStore(db)

	env := &testEnv{
		store:   store,
		gemini:  testutil.NewGeminiServer(t, replies...),
		youtube: testutil.NewYouTubeServer(t, "dQw4w9WgXcQ"),
		tempDir: t.TempDir(),
	}

	ing, err := ingest.New(env.tempDir, maxUpload, nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	specCfg := cfg.Spectrogram
	specCfg.FFmpegPath = testutil.FakeFFmpeg(t, specCfg.Width, specCfg.Height)
	transcoder, err := spectrogram.NewTranscoder(specCfg, env.tempDir, nil)
	if err != nil {
		t.Fatalf("transcoder: %v", err)
	}
	pool := worker.NewPool(2, 4, nil)
	pool.Start()
	t.Cleanup(pool.Stop)

	aiClient, err := ai.New(ctx, config.ProviderConfig{APIKey: "test", BaseURL: env.gemini.URL + "/", Model: "gemini-test"},
		config.AIConfig{TimeoutSeconds: 5, MaxRetries: 1, InitialBackoffMS: 1, MaxBackoffMS: 2}, nil)
	if err != nil {
		t.Fatalf("ai client: %v", err)
	}
	tutorials, err := tutorial.New(ctx, config.ProviderConfig{}, cfg.Tutorial, nil,
		option.WithEndpoint(env.youtube.URL+"/"),
		option.WithHTTPClient(env.youtube.Client()),
	)
	if err != nil {
		t.Fatalf("tutorial client: %v", err)
	}

	authSvc, err := auth.NewService(store, config.AuthConfig{JWTSecret: "test-secret", TokenTTLHours: 1, BcryptCost: bcrypt.MinCost}, nil)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	pipeline := diagnose.New(diagnose.Deps{
		Ingestor:   ing,
		Transcoder: transcoder,
		Runner:     pool,
		Diagnoser:  aiClient,
		Tutorials:  tutorials,
		Records:    store,
	}, nil)
	handler := NewHandler(Options{
		Pipeline:       pipeline,
		Auth:           authSvc,
		Records:        store,
		Users:          store,
		Idempotency:    idempotency.NewMemoryStore(64, time.Hour, time.Minute),
		Health:         store,
		MaxUploadBytes: ing.MaxBytes(),
	})

	router := gin.New()
	router.Use(RequestLogger(nil), Metrics())
	handler.RegisterRoutes(router)
	env.router = router
	return env
}

type diagnoseBody struct {
	Success       bool              `json:"success"`
	Diagnosis     *models.Diagnosis `json:"diagnosis"`
	TutorialVideo *string           `json:"tutorialVideo"`
	RecordID      string            `json:"recordId"`
	Saved         bool              `json:"saved"`
	Error         string            `json:"error"`
	Details       string            `json:"details"`
	RawResponse   string            `json:"rawResponse"`
}

func TestEngineSoundEndToEnd(t *testing.T) {
	env := newTestServer(t, rodKnockReply)
	userID, headers := registerAndLogin(t, env.router)

	wav := readFile(t, testutil.RodKnockWAV(t, t.TempDir(), 2))
	resp := postMultipart(t, env.router, "/api/diagnose/engine-sound", "engineSound", "engine.wav", "audio/wav", wav, headers)
	assertStatus(t, resp, http.StatusOK)

	var body diagnoseBody
	decodeJSON(t, resp.Body.Bytes(), &body)
	if !body.Success || !body.Saved || body.RecordID == "" {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
	switch body.Diagnosis.Severity {
	case models.SeverityHigh, models.SeverityMedium, models.SeverityLow:
	default:
		t.Fatalf("severity %q not normalised", body.Diagnosis.Severity)
	}
	if body.Diagnosis.Fault == "" {
		t.Fatalf("expected a fault")
	}
	if body.TutorialVideo == nil || *body.TutorialVideo != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Fatalf("unexpected tutorial: %v", body.TutorialVideo)
	}
	if q := env.youtube.LastQuery(); q != "Rod knock car repair tutorial" {
		t.Fatalf("unexpected tutorial query %q", q)
	}

	records := listRecords(t, env.router, userID, headers)
	if len(records) != 1 || records[0].ID != body.RecordID {
		t.Fatalf("expected the saved record in history, got %+v", records)
	}
	if records[0].UserID != userID || records[0].Kind != models.KindEngineSound {
		t.Fatalf("record not attributed: %+v", records[0])
	}
	if left := testutil.DirEntries(t, env.tempDir); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestEngineSoundRejectsTextMisnamedAsMP3(t *testing.T) {
	env := newTestServer(t, rodKnockReply)
	userID, headers := registerAndLogin(t, env.router)

	resp := postMultipart(t, env.router, "/api/diagnose/engine-sound", "engineSound", "song.mp3", "audio/mpeg",
		[]byte("these are lecture notes, not an engine"), headers)
	assertStatus(t, resp, http.StatusInternalServerError)

	var body diagnoseBody
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Error != "failed to generate spectrogram" || !strings.Contains(body.Details, "Invalid data") {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
	if env.gemini.Calls() != 0 {
		t.Fatalf("model called for undecodable audio")
	}
	if records := listRecords(t, env.router, userID, headers); len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
	if left := testutil.DirEntries(t, env.tempDir); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestEngineSoundModelRejectsInput(t *testing.T) {
	env := newTestServer(t, `{"error": "not an engine sound"}`)
	userID, headers := registerAndLogin(t, env.router)

	resp := postMultipart(t, env.router, "/api/diagnose/engine-sound", "engineSound", "engine.wav", "audio/wav",
		readFile(t, testutil.RodKnockWAV(t, t.TempDir(), 1)), headers)
	assertStatus(t, resp, http.StatusUnprocessableEntity)

	var body diagnoseBody
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Success || body.Error != "not an engine sound" || body.RawResponse == "" {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
	if records := listRecords(t, env.router, userID, headers); len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestEngineSoundUnparseableReply(t *testing.T) {
	raw := "Sounds like a rod knock to me, get it checked."
	env := newTestServer(t, raw)
	userID, headers := registerAndLogin(t, env.router)

	resp := postMultipart(t, env.router, "/api/diagnose/engine-sound", "engineSound", "engine.wav", "audio/wav",
		readFile(t, testutil.RodKnockWAV(t, t.TempDir(), 1)), headers)
	assertStatus(t, resp, http.StatusInternalServerError)

	var body diagnoseBody
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.RawResponse != raw || body.Success {
		t.Fatalf("expected raw response to be returned, got %s", resp.Body.String())
	}
	if env.gemini.Calls() != 1 {
		t.Fatalf("content errors must not be retried, got %d calls", env.gemini.Calls())
	}
	if records := listRecords(t, env.router, userID, headers); len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestEngineSoundModelUnavailable(t *testing.T) {
	env := newTestServer(t, rodKnockReply)
	env.gemini.FailNext(http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	_, headers := registerAndLogin(t, env.router)

	resp := postMultipart(t, env.router, "/api/diagnose/engine-sound", "engineSound", "engine.wav", "audio/wav",
		readFile(t, testutil.RodKnockWAV(t, t.TempDir(), 1)), headers)
	assertStatus(t, resp, http.StatusServiceUnavailable)
	if env.gemini.Calls() != 2 {
		t.Fatalf("expected one retry, got %d calls", env.gemini.Calls())
	}
}

func TestTutorialFailureStillSucceeds(t *testing.T) {
	env := newTestServer(t, rodKnockReply)
	env.youtube.FailWith(http.StatusInternalServerError)
	userID, headers := registerAndLogin(t, env.router)

	resp := postMultipart(t, env.router, "/api/diagnose/engine-sound", "engineSound", "engine.wav", "audio/wav",
		readFile(t, testutil.RodKnockWAV(t, t.TempDir(), 1)), headers)
	assertStatus(t, resp, http.StatusOK)

	var raw map[string]json.RawMessage
	decodeJSON(t, resp.Body.Bytes(), &raw)
	if tv, ok := raw["tutorialVideo"]; !ok || string(tv) != "null" {
		t.Fatalf("expected tutorialVideo null, got %s", resp.Body.String())
	}
	records := listRecords(t, env.router, userID, headers)
	if len(records) != 1 || records[0].TutorialVideo != nil {
		t.Fatalf("expected one record without tutorial, got %+v", records)
	}
}

func TestIdempotencyKeyPreventsDuplicateRecords(t *testing.T) {
	env := newTestServer(t, rodKnockReply)
	userID, headers := registerAndLogin(t, env.router)
	wav := readFile(t, testutil.RodKnockWAV(t, t.TempDir(), 1))

	keyed := map[string]string{idempotency.HeaderName: "retry-1"}
	for k, v := range headers {
		keyed[k] = v
	}
	first := postMultipart(t, env.router, "/api/diagnose/engine-sound", "engineSound", "engine.wav", "audio/wav", wav, keyed)
	assertStatus(t, first, http.StatusOK)
	second := postMultipart(t, env.router, "/api/diagnose/engine-sound", "engineSound", "engine.wav", "audio/wav", wav, keyed)
	assertStatus(t, second, http.StatusOK)
	if second.Header().Get(ReplayHeader) != "true" {
		t.Fatalf("expected replayed response")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if env.gemini.Calls() != 1 {
		t.Fatalf("expected a single model call, got %d", env.gemini.Calls())
	}
	if records := listRecords(t, env.router, userID, headers); len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}

	// without a key each request is a new diagnosis
	for i := 0; i < 2; i++ {
		resp := postMultipart(t, env.router, "/api/diagnose/engine-sound", "engineSound", "engine.wav", "audio/wav", wav, headers)
		assertStatus(t, resp, http.StatusOK)
	}
	if records := listRecords(t, env.router, userID, headers); len(records) != 3 {
		t.Fatalf("expected three records, got %d", len(records))
	}
}

func TestDashboardMultipartAndBase64(t *testing.T) {
	env := newTestServer(t, dashboardReply)
	userID, headers := registerAndLogin(t, env.router)
	png := testutil.PNG(t, 16, 16)

	resp := postMultipart(t, env.router, "/api/diagnose/dashboard", "dashboardImage", "dash.png", "image/png", png, headers)
	assertStatus(t, resp, http.StatusOK)
	var first diagnoseBody
	decodeJSON(t, resp.Body.Bytes(), &first)
	if first.Diagnosis.Severity != models.SeverityMedium || len(first.Diagnosis.Indicators) != 1 {
		t.Fatalf("unexpected diagnosis: %+v", first.Diagnosis)
	}

	resp = doJSONRequest(t, env.router, http.MethodPost, "/api/diagnose/dashboard", map[string]string{
		"dashboardImage": base64.StdEncoding.EncodeToString(png),
		"mimeType":       "image/png",
	}, headers)
	assertStatus(t, resp, http.StatusOK)
	var second diagnoseBody
	decodeJSON(t, resp.Body.Bytes(), &second)

	records := listRecords(t, env.router, userID, headers)
	if len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
	if records[0].ID != second.RecordID || records[1].ID != first.RecordID {
		t.Fatalf("history not newest first: %s, %s", records[0].ID, records[1].ID)
	}
	if records[0].Kind != models.KindDashboard || records[0].Readings == nil {
		t.Fatalf("unexpected record: %+v", records[0])
	}

	resp = doJSONRequest(t, env.router, http.MethodPost, "/api/diagnose/dashboard", map[string]string{
		"dashboardImage": base64.StdEncoding.EncodeToString([]byte("plain text")),
	}, headers)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestDashboardBase64NearLimit(t *testing.T) {
	env := newTestServerWithLimit(t, 8<<20, dashboardReply)
	_, headers := registerAndLogin(t, env.router)

	png := testutil.PNG(t, 16, 16)
	img := make([]byte, 7<<20)
	copy(img, png)
	resp := doJSONRequest(t, env.router, http.MethodPost, "/api/diagnose/dashboard", map[string]string{
		"dashboardImage": base64.StdEncoding.EncodeToString(img),
		"mimeType":       "image/png",
	}, headers)
	assertStatus(t, resp, http.StatusOK)

	over := make([]byte, 9<<20)
	copy(over, png)
	resp = doJSONRequest(t, env.router, http.MethodPost, "/api/diagnose/dashboard", map[string]string{
		"dashboardImage": base64.StdEncoding.EncodeToString(over),
	}, headers)
	assertStatus(t, resp, http.StatusRequestEntityTooLarge)
}

func newIdempotentContext(key string) (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/diagnose/dashboard", nil)
	c.Request.Header.Set(idempotency.HeaderName, key)
	return c, rec
}

func TestIdempotentReleasesKeyOnPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := idempotency.NewMemoryStore(8, time.Hour, time.Hour)
	h := NewHandler(Options{Idempotency: store})

	c, _ := newIdempotentContext("boom")
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		h.idempotent(c, models.KindDashboard, "user-1", func(context.Context) (int, any) {
			panic("handler exploded")
		})
	}()

	entry, err := store.Reserve(context.Background(), "user-1:dashboard:boom")
	if err != nil || entry != nil {
		t.Fatalf("key still held after panic: %v, %v", entry, err)
	}
}

func TestIdempotentDoesNotReplayUnsavedDiagnosis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(Options{Idempotency: idempotency.NewMemoryStore(8, time.Hour, time.Hour)})

	calls := 0
	handle := func(context.Context) (int, any) {
		calls++
		return http.StatusOK, gin.H{"success": true, "saved": calls > 1}
	}
	for i := 0; i < 3; i++ {
		c, rec := newIdempotentContext("unsaved")
		h.idempotent(c, models.KindDashboard, "user-1", handle)
		assertStatus(t, rec, http.StatusOK)
	}
	if calls != 2 {
		t.Fatalf("expected the unsaved attempt to be retried once, got %d runs", calls)
	}
}

func TestDiagnoseValidation(t *testing.T) {
	env := newTestServer(t, rodKnockReply)
	userID, headers := registerAndLogin(t, env.router)

	resp := postMultipart(t, env.router, "/api/diagnose/engine-sound", "wrongField", "engine.wav", "audio/wav", []byte("RIFF"), headers)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = postMultipart(t, env.router, "/api/diagnose/engine-sound", "engineSound", "notes.txt", "text/plain", []byte("hello"), headers)
	assertStatus(t, resp, http.StatusBadRequest)

	big := bytes.Repeat([]byte{'R'}, 4<<20)
	resp = postMultipart(t, env.router, "/api/diagnose/engine-sound", "engineSound", "engine.wav", "audio/wav", big, headers)
	assertStatus(t, resp, http.StatusRequestEntityTooLarge)

	resp = postMultipart(t, env.router, "/api/diagnose/engine-sound", "engineSound", "engine.wav", "audio/wav", []byte("RIFF"), nil)
	assertStatus(t, resp, http.StatusUnauthorized)

	if env.gemini.Calls() != 0 {
		t.Fatalf("model called for invalid requests")
	}
	if records := listRecords(t, env.router, userID, headers); len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestDiagnosticsOfOtherUserForbidden(t *testing.T) {
	env := newTestServer(t, rodKnockReply)
	_, headers := registerAndLogin(t, env.router)
	otherID, _ := registerAndLogin(t, env.router)

	resp := doJSONRequest(t, env.router, http.MethodGet, "/api/diagnostics/"+otherID, nil, headers)
	assertStatus(t, resp, http.StatusForbidden)
}

func TestAuthEndpoints(t *testing.T) {
	env := newTestServer(t)

	signup := map[string]string{"email": "pat@example.com", "password": "secret1", "name": "Pat"}
	resp := doJSONRequest(t, env.router, http.MethodPost, "/api/auth/signup", signup, nil)
	assertStatus(t, resp, http.StatusCreated)
	if strings.Contains(resp.Body.String(), "password") {
		t.Fatalf("password hash leaked: %s", resp.Body.String())
	}
	resp = doJSONRequest(t, env.router, http.MethodPost, "/api/auth/signup", signup, nil)
	assertStatus(t, resp, http.StatusConflict)

	resp = doJSONRequest(t, env.router, http.MethodPost, "/api/auth/signup", map[string]string{"email": "bad"}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, env.router, http.MethodPost, "/api/auth/login", map[string]string{"email": "pat@example.com", "password": "nope"}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)

	resp = doJSONRequest(t, env.router, http.MethodPost, "/api/auth/login", map[string]string{"email": "PAT@example.com", "password": "secret1"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Token == "" || body.User.Email != "pat@example.com" {
		t.Fatalf("unexpected login body: %s", resp.Body.String())
	}
}

func TestMechanicsListing(t *testing.T) {
	env := newTestServer(t)
	resp := doJSONRequest(t, env.router, http.MethodPost, "/api/auth/signup", map[string]any{
		"email": "mech@example.com", "password": "wrench1", "name": "Mac", "role": "mechanic",
		"mechanicProfile": map[string]any{"expertise": []string{"engine"}, "rating": 4.5, "location": "Accra"},
	}, nil)
	assertStatus(t, resp, http.StatusCreated)
	registerAndLogin(t, env.router)

	resp = doJSONRequest(t, env.router, http.MethodGet, "/api/mechanics", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Mechanics []models.User `json:"mechanics"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Mechanics) != 1 || body.Mechanics[0].Mechanic == nil || body.Mechanics[0].Mechanic.Location != "Accra" {
		t.Fatalf("unexpected mechanics: %s", resp.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	env := newTestServer(t)
	resp := doJSONRequest(t, env.router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	if resp.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected a request id header")
	}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postMultipart(t *testing.T, router *gin.Engine, path, field, filename, contentType string, data []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func listRecords(t *testing.T, router *gin.Engine, userID string, headers map[string]string) []models.DiagnosticRecord {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodGet, "/api/diagnostics/"+userID, nil, headers)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Records []models.DiagnosticRecord `json:"records"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	return body.Records
}

func registerAndLogin(t *testing.T, router *gin.Engine) (string, map[string]string) {
	t.Helper()
	email := fmt.Sprintf("driver_%d@example.com", time.Now().UnixNano())
	password := "pass123"
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/auth/signup", map[string]string{
		"email":    email,
		"password": password,
		"name":     "Test Driver",
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)

	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var body struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &body)
	if body.Token == "" || body.User.ID == "" {
		t.Fatalf("expected token and user id from login")
	}
	return body.User.ID, map[string]string{"Authorization": "Bearer " + body.Token}
}
