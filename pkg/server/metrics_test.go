package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStatsEndpointServesJSON(t *testing.T) {
	srv := newTestServer(t)
	srv.metrics.TotalConnections.Add(3)
	srv.metrics.KickCount.Add(1)

	rec := httptest.NewRecorder()
	srv.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type: got %q", ct)
	}
	var snap MetricsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if snap.TotalConnections != 3 || snap.KickCount != 1 {
		t.Fatalf("stats snapshot: got %+v", snap)
	}
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	srv := newTestServer(t)
	srv.metrics.MessagesBroadcast.Add(5)

	rec := httptest.NewRecorder()
	srv.handleMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "chatline_broadcasts_total 5") {
		t.Fatalf("metrics body missing broadcast counter:\n%s", body)
	}
	if !strings.Contains(body, "# TYPE chatline_connections_active gauge") {
		t.Fatalf("metrics body missing type line:\n%s", body)
	}
}
