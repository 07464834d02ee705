package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/momentum/internal/engine"
	"github.com/thebtf/momentum/pkg/models"
)

// UserIDHeader carries the pre-authenticated caller identity.
const UserIDHeader = "X-User-ID"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type ctxKey int

const userIDKey ctxKey = iota

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

// statusFor maps engine error kinds to HTTP status codes.
func statusFor(err error) int {
	switch engine.KindOf(err) {
	case engine.KindInvalid:
		return http.StatusBadRequest
	case engine.KindUnauthorized:
		return http.StatusForbidden
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindUnavailable:
		return http.StatusServiceUnavailable
	case engine.KindConflict:
		return http.StatusConflict
	default:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ev := log.Debug()
	if status >= http.StatusInternalServerError {
		ev = log.Warn()
	}
	ev.Err(err).
		Str("path", r.URL.Path).
		Str("request_id", middleware.GetReqID(r.Context())).
		Int("status", status).
		Msg("Request failed")

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: engine.CodeOf(err)})
}

func writeBadRequest(w http.ResponseWriter, code, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: code})
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid_json", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// requireUser rejects requests without a caller identity.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserIDHeader)
		if id == "" {
			writeBadRequest(w, "missing_user_id", UserIDHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

// requireReady returns 503 until the service has started.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service starting", Code: "not_ready"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	dbOK := s.engine.Ping(ctx) == nil
	if !dbOK || !s.ready.Load() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":      status,
		"version":     s.version,
		"uptime":      time.Since(s.startTime).Seconds(),
		"db":          dbOK,
		"db_driver":   s.store.Driver(),
		"sse_clients": s.sseBroadcaster.ClientCount(),
	})
}

func (s *Service) handleGetMomentum(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.GetMomentum(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Service) handleConversationCompleted(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.RecordConversationCompleted(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type submitDrillRequest struct {
	SessionID   string   `json:"session_id"`
	ArtifactID  string   `json:"artifact_id"`
	ScenarioIDs []string `json:"scenario_ids"`
	Answers     []int    `json:"answers"`
	IsFirstPlay bool     `json:"is_first_play_for_artifact"`
}

func (s *Service) handleSubmitDrill(w http.ResponseWriter, r *http.Request) {
	var req submitDrillRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.engine.SubmitDrillSession(r.Context(), engine.SubmitDrillInput{
		SessionID:   req.SessionID,
		UserID:      userID(r),
		ArtifactID:  req.ArtifactID,
		ScenarioIDs: req.ScenarioIDs,
		Answers:     req.Answers,
		IsFirstPlay: req.IsFirstPlay,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Service) handleListDrills(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	sessions, err := s.engine.ListDrillSessions(r.Context(), userID(r), day)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if day == "" {
		day = s.engine.Today()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":      day,
		"sessions": sessions,
	})
}

func (s *Service) handleEligibility(w http.ResponseWriter, r *http.Request) {
	elig, err := s.engine.CheckEligibility(r.Context(), userID(r), r.URL.Query().Get("artifact_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, elig)
}

type createArtifactRequest struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	OnboardingScenario bool   `json:"onboarding_scenario"`
	Shared             bool   `json:"shared"`
}

func (s *Service) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	var req createArtifactRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// Shared artifacts are seeded by the host, never created by users
	if req.Shared {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "users cannot create shared artifacts", Code: "shared_forbidden"})
		return
	}

	owner := userID(r)
	a, err := s.engine.CreateArtifact(r.Context(), engine.CreateArtifactInput{
		ID:                 req.ID,
		OwnerID:            &owner,
		Title:              req.Title,
		OnboardingScenario: req.OnboardingScenario,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Service) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.GetArtifact(r.Context(), userID(r), chi.URLParam(r, "artifactID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type artifactUseRequest struct {
	Delta *int                `json:"delta"`
	Kind  models.ActivityType `json:"kind"`
}

func (s *Service) handleArtifactUse(w http.ResponseWriter, r *http.Request) {
	var req artifactUseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	delta := s.engine.Limits().PracticePowerDelta
	if req.Delta != nil {
		if *req.Delta < 0 {
			writeBadRequest(w, "invalid_delta", "delta must not be negative")
			return
		}
		delta = *req.Delta
	}

	artifactID := chi.URLParam(r, "artifactID")
	power, err := s.engine.RecordArtifactUse(r.Context(), engine.ArtifactUseInput{
		ArtifactID: artifactID,
		UserID:     userID(r),
		Kind:       req.Kind,
		Delta:      delta,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"artifact_id": artifactID,
		"power":       power,
	})
}

type createScenarioRequest struct {
	ID             string          `json:"id"`
	Situation      string          `json:"situation"`
	CurrentThought string          `json:"current_thought"`
	Options        []models.Option `json:"options"`
	Shared         bool            `json:"shared"`
}

func (s *Service) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var req createScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sc, err := s.engine.CreateScenario(r.Context(), engine.CreateScenarioInput{
		ID:             req.ID,
		UserID:         userID(r),
		ArtifactID:     chi.URLParam(r, "artifactID"),
		Situation:      req.Situation,
		CurrentThought: req.CurrentThought,
		Options:        req.Options,
		Shared:         req.Shared,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Service) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, source, err := s.engine.ListScenarios(r.Context(), userID(r), chi.URLParam(r, "artifactID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":    source,
		"scenarios": scenarios,
	})
}

type upsertProfileRequest struct {
	OnboardingCompleted *bool `json:"onboarding_completed"`
}

func (s *Service) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var req upsertProfileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OnboardingCompleted == nil {
		writeBadRequest(w, "invalid_profile", "onboarding_completed is required")
		return
	}

	p, err := s.engine.UpsertProfile(r.Context(), userID(r), *req.OnboardingCompleted)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.sseBroadcaster.Serve(w, r, userID(r))
}
