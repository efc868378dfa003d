package pipeline

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderServesPrometheus(t *testing.T) {
	p, err := InitProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider)
	require.NoError(t, err)
	ctx := context.Background()
	m.FramesAnalyzed.Add(ctx, 5)
	m.RecordNote(ctx, "C4")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "karaoke_frames_analyzed")
	assert.Contains(t, string(body), `note="C4"`)
}

func TestDefaultMetricsIsShared(t *testing.T) {
	a, b := DefaultMetrics(), DefaultMetrics()
	require.NotNil(t, a)
	assert.Same(t, a, b)
}
