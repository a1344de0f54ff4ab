package tutorial

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"carcare/internal/config"
	"carcare/internal/models"
	"carcare/internal/testutil"

	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, srv *httptest.Server, timeout int) *Client {
	t.Helper()
	cfg := config.Default().Tutorial
	cfg.TimeoutSeconds = timeout
	c, err := New(context.Background(), config.ProviderConfig{}, cfg, nil,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestQuery(t *testing.T) {
	cases := []struct {
		kind models.Kind
		d    *models.Diagnosis
		want string
	}{
		{models.KindEngineSound, &models.Diagnosis{Fault: "Rod knock", Summary: "ignored"}, "Rod knock car repair tutorial"},
		{models.KindEngineSound, &models.Diagnosis{Summary: "Loose heat shield"}, "Loose heat shield car repair tutorial"},
		{models.KindDashboard, &models.Diagnosis{Indicators: []models.Indicator{{Name: "Check engine"}}}, "Check engine car repair tutorial"},
		{models.KindDashboard, &models.Diagnosis{}, "dashboard warning light car repair tutorial"},
		{models.KindEngineSound, nil, "engine noise car repair tutorial"},
	}
	for _, tc := range cases {
		if got := Query(tc.kind, tc.d); got != tc.want {
			t.Fatalf("Query = %q, want %q", got, tc.want)
		}
	}
}

func TestFindReturnsWatchURLAndCaches(t *testing.T) {
	srv := testutil.NewYouTubeServer(t, "abc123")
	c := newTestClient(t, srv.Server, 5)
	d := &models.Diagnosis{Fault: "Rod knock"}

	for i := 0; i < 2; i++ {
		got := c.Find(context.Background(), models.KindEngineSound, d)
		if got == nil || *got != "https://www.youtube.com/watch?v=abc123" {
			t.Fatalf("Find = %v", got)
		}
	}
	if srv.Calls() != 1 {
		t.Fatalf("expected cached second lookup, calls = %d", srv.Calls())
	}
	if q := srv.LastQuery(); q != "Rod knock car repair tutorial" {
		t.Fatalf("query = %q", q)
	}
}

func TestFindDegradesToNil(t *testing.T) {
	srv := testutil.NewYouTubeServer(t, "")
	c := newTestClient(t, srv.Server, 5)
	if got := c.Find(context.Background(), models.KindEngineSound, &models.Diagnosis{Fault: "x"}); got != nil {
		t.Fatalf("expected nil for no results, got %v", *got)
	}

	srv.FailWith(http.StatusForbidden)
	if got := c.Find(context.Background(), models.KindEngineSound, &models.Diagnosis{Fault: "y"}); got != nil {
		t.Fatalf("expected nil on api error, got %v", *got)
	}

	srv.Close()
	if got := c.Find(context.Background(), models.KindEngineSound, &models.Diagnosis{Fault: "z"}); got != nil {
		t.Fatalf("expected nil on network error, got %v", *got)
	}
}

func TestFindHonoursTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)
	c := newTestClient(t, srv, 1)

	start := time.Now()
	if got := c.Find(context.Background(), models.KindEngineSound, &models.Diagnosis{Fault: "slow"}); got != nil {
		t.Fatalf("expected nil on timeout")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("lookup blocked for %v", elapsed)
	}
}

func TestDisabledWithoutKey(t *testing.T) {
	c, err := New(context.Background(), config.ProviderConfig{}, config.Default().Tutorial, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.Enabled() || c.Find(context.Background(), models.KindDashboard, &models.Diagnosis{Fault: "x"}) != nil {
		t.Fatalf("client without key should be disabled")
	}
}
