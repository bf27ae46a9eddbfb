package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamCounters(t *testing.T) {
	m := New()

	m.StreamStarted("proposal.generateOutline")
	m.StreamStarted("proposal.generateOutline")
	m.StreamChunk("proposal.generateOutline")
	m.StreamFinished("proposal.generateOutline", OutcomeComplete)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.streamsStarted.WithLabelValues("proposal.generateOutline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamChunks.WithLabelValues("proposal.generateOutline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamsFinished.WithLabelValues("proposal.generateOutline", OutcomeComplete)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamsActive))
}

func TestVoiceIntentDefaultsToNone(t *testing.T) {
	m := New()
	m.VoiceIntent("client", "")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.voiceIntents.WithLabelValues("client", "none")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.StreamStarted("x")
		m.StreamChunk("x")
		m.StreamFinished("x", OutcomeError)
		m.VoiceIntent("client", "x")
		m.Submission("completed")
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Submission("completed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bidstream_proposal_request_submissions_total{outcome="completed"} 1`)
}
