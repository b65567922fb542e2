package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/bulk-importer/internal/engine"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

type addItemsRequest struct {
	URLs []string `json:"urls"`
}

type skipRequest struct {
	Reason string `json:"reason"`
}

// startRequest carries optional overrides of the run options.
type startRequest struct {
	Concurrency         *int  `json:"concurrency"`
	MaxRetries          *int  `json:"max_retries"`
	RetryDelayMs        *int  `json:"retry_delay_ms"`
	DelayBetweenItemsMs *int  `json:"delay_between_items_ms"`
	AutoSaveIntervalMs  *int  `json:"auto_save_interval_ms"`
	PersistToStorage    *bool `json:"persist_to_storage"`
	SkipConfirmation    *bool `json:"skip_confirmation"`
}

type optionsDTO struct {
	Concurrency         int   `json:"concurrency"`
	MaxRetries          int   `json:"max_retries"`
	RetryDelayMs        int64 `json:"retry_delay_ms"`
	DelayBetweenItemsMs int64 `json:"delay_between_items_ms"`
	AutoSaveIntervalMs  int64 `json:"auto_save_interval_ms"`
	PersistToStorage    bool  `json:"persist_to_storage"`
	SkipConfirmation    bool  `json:"skip_confirmation"`
}

type runDTO struct {
	State   importer.RunState   `json:"state"`
	RunID   string              `json:"run_id,omitempty"`
	Options optionsDTO          `json:"options"`
	Allowed []importer.RunState `json:"allowed_transitions"`
}

func (req startRequest) options() ([]engine.Option, error) {
	var opts []engine.Option
	if req.Concurrency != nil {
		if *req.Concurrency < 1 {
			return nil, errors.New("concurrency must be >= 1")
		}
		opts = append(opts, engine.WithConcurrency(*req.Concurrency))
	}
	if req.MaxRetries != nil {
		if *req.MaxRetries < 1 {
			return nil, errors.New("max_retries must be >= 1")
		}
		opts = append(opts, engine.WithMaxRetries(*req.MaxRetries))
	}
	millis := []struct {
		name  string
		value *int
		apply func(time.Duration) engine.Option
	}{
		{"retry_delay_ms", req.RetryDelayMs, engine.WithRetryDelay},
		{"delay_between_items_ms", req.DelayBetweenItemsMs, engine.WithDelayBetweenItems},
		{"auto_save_interval_ms", req.AutoSaveIntervalMs, engine.WithAutoSaveInterval},
	}
	for _, m := range millis {
		if m.value == nil {
			continue
		}
		if *m.value < 0 {
			return nil, errors.New(m.name + " must be >= 0")
		}
		opts = append(opts, m.apply(time.Duration(*m.value)*time.Millisecond))
	}
	if req.PersistToStorage != nil {
		opts = append(opts, engine.WithPersistence(*req.PersistToStorage))
	}
	if req.SkipConfirmation != nil {
		opts = append(opts, engine.WithSkipConfirmation(*req.SkipConfirmation))
	}
	return opts, nil
}

func toOptionsDTO(o importer.Options) optionsDTO {
	return optionsDTO{
		Concurrency:         o.Concurrency,
		MaxRetries:          o.MaxRetries,
		RetryDelayMs:        o.RetryDelay.Milliseconds(),
		DelayBetweenItemsMs: o.DelayBetweenItems.Milliseconds(),
		AutoSaveIntervalMs:  o.AutoSaveInterval.Milliseconds(),
		PersistToStorage:    o.PersistToStorage,
		SkipConfirmation:    o.SkipConfirmation,
	}
}

// decodeOptional decodes a JSON body, treating an empty body as zero value.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) rejected(w http.ResponseWriter, op string) {
	state := s.ctrl.State()
	writeJSON(w, http.StatusConflict, map[string]string{
		"error": op + " rejected in state " + string(state),
		"state": string(state),
	})
}

func (s *Server) runSnapshot() runDTO {
	state := s.ctrl.State()
	return runDTO{
		State:   state,
		RunID:   s.ctrl.RunID(),
		Options: toOptionsDTO(s.ctrl.Options()),
		Allowed: importer.AllowedTransitions(state),
	}
}

func (s *Server) listItems(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.ctrl.Items()})
}

func (s *Server) addItems(w http.ResponseWriter, r *http.Request) {
	var req addItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	added := s.ctrl.AddItems(req.URLs...)
	status := http.StatusCreated
	if len(added) == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"added":    added,
		"rejected": len(req.URLs) - len(added),
		"total":    len(s.ctrl.Items()),
		"state":    s.ctrl.State(),
	})
}

func (s *Server) clearItems(w http.ResponseWriter, _ *http.Request) {
	if !s.ctrl.ClearItems() {
		s.rejected(w, "clear")
		return
	}
	writeJSON(w, http.StatusOK, s.runSnapshot())
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	item, ok := s.ctrl.Item(chi.URLParam(r, "item_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "item_id")
	if _, ok := s.ctrl.Item(id); !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if !s.ctrl.RemoveItem(id) {
		s.rejected(w, "remove")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) skipItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "item_id")
	var req skipRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, ok := s.ctrl.Item(id); !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if !s.ctrl.SkipItem(id, strings.TrimSpace(req.Reason)) {
		s.rejected(w, "skip")
		return
	}
	item, _ := s.ctrl.Item(id)
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (s *Server) getRun(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runSnapshot())
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.ctrl.Start(r.Context(), opts...) {
		s.rejected(w, "start")
		return
	}
	writeJSON(w, http.StatusAccepted, s.runSnapshot())
}

func (s *Server) pauseRun(w http.ResponseWriter, _ *http.Request) {
	if !s.ctrl.Pause() {
		s.rejected(w, "pause")
		return
	}
	writeJSON(w, http.StatusOK, s.runSnapshot())
}

func (s *Server) resumeRun(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.Resume(r.Context()) {
		s.rejected(w, "resume")
		return
	}
	writeJSON(w, http.StatusAccepted, s.runSnapshot())
}

func (s *Server) cancelRun(w http.ResponseWriter, _ *http.Request) {
	if !s.ctrl.Cancel() {
		s.rejected(w, "cancel")
		return
	}
	writeJSON(w, http.StatusOK, s.runSnapshot())
}

func (s *Server) resetRun(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Reset()
	writeJSON(w, http.StatusOK, s.runSnapshot())
}

func (s *Server) retryFailed(w http.ResponseWriter, _ *http.Request) {
	switch s.ctrl.State() {
	case importer.RunProcessing, importer.RunLoading:
		s.rejected(w, "retry-failed")
		return
	}
	n := s.ctrl.RetryFailed()
	writeJSON(w, http.StatusOK, map[string]any{
		"requeued": n,
		"state":    s.ctrl.State(),
	})
}

func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.GetProgress())
}

func (s *Server) getReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.GetReport())
}
