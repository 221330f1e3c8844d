package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jgoulah/airquality/internal/pipeline"
	"github.com/jgoulah/airquality/internal/snapshot"
	"github.com/jgoulah/airquality/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedStatus pipeline.Status

func (f fixedStatus) Status() pipeline.Status {
	return pipeline.Status(f)
}

func get(t *testing.T, h http.Handler, path string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	resp := rec.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestSnapshotBeforeFirstCycle(t *testing.T) {
	s := New(discardLogger(), ":0", snapshot.NewStore(), nil)

	resp, body := get(t, s.Handler(), "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if strings.TrimSpace(body) != "{}" {
		t.Errorf("body = %q, want {}", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestSnapshot(t *testing.T) {
	store := snapshot.NewStore()
	store.Publish(models.NewSnapshot("2024-01-01T00:00", []models.Field{models.Ozone, models.PM10}, map[models.Field]string{models.Ozone: "12"}))
	s := New(discardLogger(), ":0", store, nil)

	resp, body := get(t, s.Handler(), "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	want := `{"Date":"2024-01-01T00:00","Ozone":"12","Particulates < 10um (hourly measured)":""}`
	if strings.TrimSpace(body) != want {
		t.Errorf("body = %s, want: %s", body, want)
	}
}

func TestUnknownPathAndMethod(t *testing.T) {
	s := New(discardLogger(), ":0", snapshot.NewStore(), nil)

	if resp, _ := get(t, s.Handler(), "/nope"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", resp.StatusCode)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST / = %d, want 405", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	store := snapshot.NewStore()
	status := fixedStatus{State: pipeline.Idle, LastResult: pipeline.Failed, LastError: "resolution failed", LastRun: time.Unix(0, 0).UTC()}
	s := New(discardLogger(), ":0", store, status)

	_, body := get(t, s.Handler(), "/healthz")
	var got struct {
		HasSnapshot bool   `json:"has_snapshot"`
		State       string `json:"state"`
		LastResult  string `json:"last_result"`
		LastError   string `json:"last_error"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	if got.HasSnapshot || got.State != "idle" || got.LastResult != "failed" || got.LastError != "resolution failed" {
		t.Errorf("healthz = %+v", got)
	}
}

func TestMetrics(t *testing.T) {
	s := New(discardLogger(), ":0", snapshot.NewStore(), nil)
	get(t, s.Handler(), "/")

	resp, body := get(t, s.Handler(), "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "airquality_snapshot_reads_total") {
		t.Error("metrics missing airquality_snapshot_reads_total")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(discardLogger(), "127.0.0.1:0", snapshot.NewStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
