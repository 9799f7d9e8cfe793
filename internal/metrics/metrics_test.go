package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFile("ingested")
		m.RecordMessages("inserted", 3)
		m.RecordSkippedLines(1)
		m.RecordEmbeddingBatch("ok", time.Second)
		m.RecordEmbeddingItems("embedded", 2)
		m.RecordCache("hit")
		m.ObserveSearch("semantic", "ok", time.Millisecond)
	})
}

func TestRecording(t *testing.T) {
	m := New()
	m.RecordFile("ingested")
	m.RecordFile("ingested")
	m.RecordFile("failed")
	m.RecordMessages("inserted", 5)
	m.RecordMessages("updated", 0)
	m.RecordSkippedLines(2)
	m.ObserveSearch("keyword", "ok", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestFiles.WithLabelValues("ingested")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestFiles.WithLabelValues("failed")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.IngestMessages.WithLabelValues("inserted")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.IngestMessages, "cca_ingest_messages_total")-1, "zero adds create no series")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestSkippedLines))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchRequests.WithLabelValues("keyword", "ok")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordCache("miss")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cca_embedding_cache_total{result="miss"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
