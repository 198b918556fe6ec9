package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/interview-coach/internal/audio"
	"github.com/yegors/interview-coach/internal/coach"
	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/internal/transcription"
	"github.com/yegors/interview-coach/pkg/logger"
)

const maxRequestBody = 1 << 20

// Coach generates personas and feedback
type Coach interface {
	GeneratePersona(ctx context.Context, req persona.Request) (*coach.PersonaResult, error)
	Feedback(ctx context.Context, entries []transcription.Entry) (*coach.FeedbackResult, error)
}

// Handler serves the REST endpoints
type Handler struct {
	coach      Coach
	interviews *Interviews
	startedAt  time.Time
	logger     *logger.Logger
}

// NewHandler creates a new handler
func NewHandler(c Coach, interviews *Interviews, log *logger.Logger) *Handler {
	return &Handler{
		coach:      c,
		interviews: interviews,
		startedAt:  time.Now(),
		logger:     log.Named("api-handler"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// GeneratePersona handles POST /personas. A failed generation still
// returns the prompt, with a 502.
func (h *Handler) GeneratePersona(w http.ResponseWriter, r *http.Request) {
	var req persona.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.coach.GeneratePersona(r.Context(), req)
	switch {
	case errors.Is(err, persona.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil && res != nil:
		h.logger.Warn("Persona generation failed",
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Error(err))
		writeJSON(w, http.StatusBadGateway, res)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

type feedbackRequest struct {
	Transcript []transcription.Entry `json:"transcript"`
}

// GenerateFeedback handles POST /feedback
func (h *Handler) GenerateFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i, e := range req.Transcript {
		if !e.Speaker.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("transcript[%d]: unknown speaker %q", i, e.Speaker))
			return
		}
	}

	res, err := h.coach.Feedback(r.Context(), req.Transcript)
	switch {
	case err != nil && res != nil:
		h.logger.Warn("Feedback generation failed",
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Error(err))
		writeJSON(w, http.StatusBadGateway, res)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// GetHealth handles GET /health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"uptime_seconds":   int(time.Since(h.startedAt).Seconds()),
		"interview_active": h.interviews.Busy(),
	})
}

// GetInterviewStatus handles GET /interview/status
func (h *Handler) GetInterviewStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.interviews.Snapshot())
}

// StreamInterviewAudio handles GET and HEAD /interview/audio. It streams
// the rendered playback mix as an endless WAV until the client goes away.
func (h *Handler) StreamInterviewAudio(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	id := middleware.GetReqID(r.Context())
	if id == "" {
		id = r.RemoteAddr
	}
	reader := audio.NewWAVReader(h.interviews.monitor.CreateReader(id), h.interviews.playbackRate(), 1)
	defer reader.Close()

	// Unblock the pending Read when the client disconnects
	go func() {
		<-r.Context().Done()
		reader.Close()
	}()

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Debug("Monitor stream ended", logger.Error(err))
			}
			return
		}
	}
}
