package client

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/momentum/pkg/models"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitDrill(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/drills", r.URL.Path)
		assert.Equal(t, "u1", r.Header.Get(UserIDHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var sub DrillSubmission
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
		assert.Equal(t, "a1", sub.ArtifactID)
		assert.Equal(t, []int{1, 1, 0}, sub.Answers)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"session_id":"s-1","score":2,"momentum_awarded":10,"play_number":1,"previous_momentum":0,"new_momentum":10,"milestone":null,"no_momentum_reason":null,"artifact_power":5,"replayed":false}`)
	})

	res, err := New(srv.URL, "u1").SubmitDrill(context.Background(), DrillSubmission{
		ArtifactID:  "a1",
		ScenarioIDs: []string{"x", "y", "z"},
		Answers:     []int{1, 1, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, "s-1", res.SessionID)
	assert.Equal(t, 10, res.MomentumAwarded)
	assert.Equal(t, 10.0, res.NewMomentum)
	require.NotNil(t, res.ArtifactPower)
	assert.Equal(t, 5, *res.ArtifactPower)
	assert.Nil(t, res.NoMomentumReason)
}

func TestDeniedDrillCarriesReason(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"session_id":"s-4","score":3,"momentum_awarded":0,"play_number":4,"no_momentum_reason":"daily_code_limit"}`)
	})

	res, err := New(srv.URL, "u1").SubmitDrill(context.Background(), DrillSubmission{ArtifactID: "a1", Answers: []int{1, 1, 1}})
	require.NoError(t, err)
	require.NotNil(t, res.NoMomentumReason)
	assert.Equal(t, models.ReasonDailyCodeLimit, *res.NoMomentumReason)
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  string
		retryable bool
	}{
		{"validation", http.StatusBadRequest, `{"error":"expected 3 answers","code":"invalid_answers"}`, "invalid_answers", false},
		{"forbidden", http.StatusForbidden, `{"error":"nope","code":"artifact_forbidden"}`, "artifact_forbidden", false},
		{"unavailable", http.StatusServiceUnavailable, `{"error":"db down","code":"ledger_unavailable"}`, "ledger_unavailable", true},
		{"non-json", http.StatusBadGateway, `upstream exploded`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := New(srv.URL, "u1").Momentum(context.Background())
			require.Error(t, err)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.retryable, apiErr.Retryable())
			if tt.wantCode != "" {
				assert.True(t, IsCode(err, tt.wantCode))
			}
		})
	}
}

func TestUseArtifact(t *testing.T) {
	bodies := make(chan map[string]any, 2)
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/artifacts/a 1/use", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		_, _ = io.WriteString(w, `{"artifact_id":"a 1","power":15}`)
	})

	delta := 10
	power, err := New(srv.URL, "u1").UseArtifact(context.Background(), "a 1", &delta)
	require.NoError(t, err)
	assert.Equal(t, 15, power)
	assert.Equal(t, float64(10), (<-bodies)["delta"])

	_, err = New(srv.URL, "u1").UseArtifact(context.Background(), "a 1", nil)
	require.NoError(t, err)
	assert.NotContains(t, <-bodies, "delta")
}

func TestHealthAndIsRunning(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(UserIDHeader))
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"status":"degraded","db":false,"version":"v1"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok","db":true,"version":"v1","db_driver":"sqlite"}`)
	})

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	assert.True(t, IsRunning(context.Background(), port))

	h, err := ForPort(port, "").Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", h.DBDriver)

	healthy.Store(false)
	h, err = ForPort(port, "").Health(context.Background())
	require.Error(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "degraded", h.Status)
	assert.False(t, IsRunning(context.Background(), port))
}

func TestIsRunningNoWorker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	assert.False(t, IsRunning(context.Background(), port))
}
