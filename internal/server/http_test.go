package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/denoise-service/internal/denoise"
	"github.com/skypro1111/denoise-service/internal/denoise/mock"
	"github.com/skypro1111/denoise-service/internal/stream"
)

func getJSON(t *testing.T, f *fixture, method, path string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, f.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body := map[string]any{}
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp.StatusCode, body
}

func createStream(t *testing.T, f *fixture, streamID uint32) *stream.Session {
	t.Helper()

	session, err := f.manager.CreateSession(streamID, stream.SessionConfig{
		Source:     stream.SourceUDP,
		Label:      "booth-1",
		SampleRate: denoise.SampleRate,
		Channels:   2,
		Denoise:    true,
	})
	require.NoError(t, err)
	return session
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	createStream(t, f, 7)

	status, body := getJSON(t, f, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	components := body["components"].(map[string]any)
	manager := components["stream_manager"].(map[string]any)
	assert.EqualValues(t, 1, manager["active_sessions"])
	engine := components["engine"].(map[string]any)
	assert.Equal(t, "gate", engine["kind"])

	status, _ = getJSON(t, f, http.MethodPost, "/health")
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestStreamsEndpoints(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	createStream(t, f, 7)

	status, body := getJSON(t, f, http.MethodGet, "/streams")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total_streams"])

	status, body = getJSON(t, f, http.MethodGet, "/streams/7")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 7, body["stream_id"])
	assert.Equal(t, "booth-1", body["label"])
	assert.Equal(t, stream.SourceUDP, body["source"])
	assert.Equal(t, stream.StateRunning, body["state"])
	assert.Len(t, body["assemblers"], 2)
	assert.Len(t, body["reorder"], 2)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"missing id", http.MethodGet, "/streams/", http.StatusBadRequest},
		{"invalid id", http.MethodGet, "/streams/abc", http.StatusBadRequest},
		{"unknown stream", http.MethodGet, "/streams/99", http.StatusNotFound},
		{"unknown action", http.MethodGet, "/streams/7/label", http.StatusNotFound},
		{"wrong method", http.MethodPut, "/streams/7", http.StatusMethodNotAllowed},
		{"bad denoise flag", http.MethodPost, "/streams/7/denoise?enabled=maybe", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := getJSON(t, f, tt.method, tt.path)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestToggleDenoiseEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	session := createStream(t, f, 7)

	status, body := getJSON(t, f, http.MethodPost, "/streams/7/denoise?enabled=false")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["denoise"])
	assert.False(t, session.DenoiseEnabled())

	status, _ = getJSON(t, f, http.MethodPost, "/streams/7/denoise?enabled=true")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, session.DenoiseEnabled())
}

func TestVADThresholdEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		engine: func(e *mock.Engine) { e.ScoreFunc = scoreFromFirstSample },
	})
	session, err := f.manager.CreateSession(9, stream.SessionConfig{
		Source:     stream.SourceUDP,
		SampleRate: denoise.SampleRate,
		Channels:   1,
	})
	require.NoError(t, err)

	status, body := getJSON(t, f, http.MethodPost, "/streams/9/vad?threshold=0.8")
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 0.8, body["threshold"], 1e-6)
	assert.InDelta(t, 0.8, session.VADThreshold(), 1e-6)

	for _, tc := range []struct {
		query  string
		status int
	}{
		{query: "threshold=1.5", status: http.StatusBadRequest},
		{query: "threshold=loud", status: http.StatusBadRequest},
		{query: "", status: http.StatusBadRequest},
	} {
		status, _ := getJSON(t, f, http.MethodPost, "/streams/9/vad?"+tc.query)
		assert.Equal(t, tc.status, status, tc.query)
	}
	assert.InDelta(t, 0.8, session.VADThreshold(), 1e-6)

	// 0.7 is below the new threshold; 0.9 opens a segment that 0 closes.
	for _, v := range []float32{0.7, 0.9, 0} {
		require.NoError(t, session.AddAudio(0, filledFrame(v)))
	}
	require.Eventually(t, func() bool {
		return session.GetSessionInfo().FramesProcessed == 3
	}, waitFor, 10*time.Millisecond)

	status, body = getJSON(t, f, http.MethodGet, "/streams/9")
	require.Equal(t, http.StatusOK, status)
	vadStats := body["vad"].(map[string]any)
	assert.EqualValues(t, 1, vadStats["voice_frames"])
	segments := body["recent_segments"].([]any)
	require.Len(t, segments, 1)
	assert.EqualValues(t, 1, segments[0].(map[string]any)["start_frame"])
}

func TestDeleteStreamEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	session := createStream(t, f, 7)

	status, body := getJSON(t, f, http.MethodDelete, "/streams/7")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, stream.StateStopped, body["state"])
	assert.Equal(t, stream.StateStopped, session.State())

	_, exists := f.manager.GetSession(7)
	assert.False(t, exists)
	assert.Zero(t, f.engine.LiveContexts())
}

func TestConfigEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	status, body := getJSON(t, f, http.MethodGet, "/config")
	require.Equal(t, http.StatusOK, status)

	audioSection := body["audio"].(map[string]any)
	assert.EqualValues(t, denoise.SampleRate, audioSection["sample_rate"])
	assert.EqualValues(t, denoise.SampleLength, audioSection["frame_length"])

	engine := body["engine"].(map[string]any)
	assert.Equal(t, "gate", engine["kind"])
	assert.EqualValues(t, denoise.BufferSize, engine["buffer_size"])

	httpSection := body["http"].(map[string]any)
	assert.Equal(t, "/ws", httpSection["ws_path"])
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		engineStats: func() any { return map[string]any{"contexts": 1} },
	})
	createStream(t, f, 7)

	status, body := getJSON(t, f, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, status)

	streams := body["streams"].(map[string]any)
	assert.EqualValues(t, 1, streams["active_count"])
	bySource := streams["by_source"].(map[string]any)
	assert.EqualValues(t, 1, bySource[stream.SourceUDP])

	udp := body["udp"].(map[string]any)
	assert.EqualValues(t, 2, udp["workers"])
	assert.EqualValues(t, 32, udp["queue_capacity"])

	engine := body["engine"].(map[string]any)
	assert.EqualValues(t, 1, engine["contexts"])
}

func TestRootEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	status, body := getJSON(t, f, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Speech Denoise Service", body["service"])
	assert.Contains(t, body["endpoints"], "GET /ws (ws)")

	status, _ = getJSON(t, f, http.MethodGet, "/unknown")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHTTPMetricsRecorded(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	getJSON(t, f, http.MethodGet, "/health")
	getJSON(t, f, http.MethodGet, "/streams/99")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("GET", "/streams/{id}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HTTPErrors.WithLabelValues("GET", "/streams/{id}", "client_error")))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	resp, err := f.server.Client().Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
