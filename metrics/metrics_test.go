package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FetchStarted()
	m.FetchStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetchesActive))

	m.FetchFinished(StatusOK, time.Second)
	m.FetchFinished(StatusTimeout, 3*time.Second)
	m.FetchUnstarted(StatusTimeout)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.fetchesActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchesTotal.WithLabelValues(StatusOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetchesTotal.WithLabelValues(StatusTimeout)))

	m.ArchiveEntries(3, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.archiveEntries.WithLabelValues(StatusOK)))

	m.BatchFinished(BatchPartial, 10*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchesTotal.WithLabelValues(BatchPartial)))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FetchStarted()
		m.FetchFinished(StatusOK, time.Second)
		m.FetchUnstarted(StatusCancelled)
		m.ArchiveEntries(1, 0)
		m.BatchFinished(BatchComplete, time.Second)
	})
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.BatchFinished(BatchComplete, time.Second)

	path := filepath.Join(t.TempDir(), "xomcloud.prom")
	require.NoError(t, WriteTextfile(path, reg))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `xomcloud_batches_total{status="complete"} 1`)
}
