package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCountersAreExposed(t *testing.T) {
	t.Parallel()

	m := New()
	m.PageCreated()
	m.PageEdited(true)
	m.PageEdited(false)
	m.PageEdited(false)
	m.RemoteApplied(true)
	m.RemoteFailed()
	m.PageImported(false)
	m.ObserveRequest(http.MethodGet, http.StatusOK, 15*time.Millisecond)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}

	values := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			key := family.GetName()
			for _, label := range metric.GetLabel() {
				key += "|" + label.GetValue()
			}
			if counter := metric.GetCounter(); counter != nil {
				values[key] = counter.GetValue()
			}
			if histogram := metric.GetHistogram(); histogram != nil {
				values[key] = float64(histogram.GetSampleCount())
			}
		}
	}

	expected := map[string]float64{
		"salvi_pages_created_total":                   1,
		"salvi_page_edits_total|appended":             1,
		"salvi_page_edits_total|metadata":             2,
		"salvi_sync_pages_total|applied":              1,
		"salvi_sync_pages_total|failed":               1,
		"salvi_import_pages_total|failed":             1,
		"salvi_http_request_duration_seconds|GET|200": 1,
	}
	for key, want := range expected {
		if got := values[key]; got != want {
			t.Errorf("expected %s = %v, got %v", key, want, got)
		}
	}
}

func TestHandlerServesExpositionFormat(t *testing.T) {
	t.Parallel()

	m := New()
	m.PageCreated()

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	if !strings.Contains(string(body), "salvi_pages_created_total 1") {
		t.Fatalf("expected counter in exposition output, got:\n%s", body)
	}
}
