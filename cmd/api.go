package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/intake"
	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/internal/store"
	"github.com/sells-group/intake-service/internal/webhook"
)

// apiHandler serves the intake HTTP API.
type apiHandler struct {
	store   store.Store
	intake  *intake.Intake
	webhook *webhook.Dispatcher

	// runCtx outlives individual requests so async runs are not cancelled
	// when the submitting request returns.
	runCtx context.Context
}

// newRouter builds the chi router with middleware and all API routes.
func newRouter(h *apiHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/healthz", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/submissions", h.createSubmission)
		r.Get("/submissions/{id}", h.getSubmission)
		r.Get("/submissions/{id}/draft", h.getDraft)
		r.Patch("/submissions/{id}/draft/fields/{key}", h.editDraftField)
		r.Post("/submissions/{id}/draft/confirm", h.confirmDraft)
		r.Get("/runs/{id}", h.getRun)
	})

	return r
}

func (h *apiHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *apiHandler) createSubmission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID      string `json:"tenant_id"`
		WebsiteURL    string `json:"website_url"`
		SchemaVersion string `json:"schema_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" || req.WebsiteURL == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and website_url are required")
		return
	}

	sub := &model.Submission{
		TenantID:      req.TenantID,
		WebsiteURL:    req.WebsiteURL,
		SchemaVersion: req.SchemaVersion,
	}
	if err := h.store.CreateSubmission(r.Context(), sub); err != nil {
		zap.L().Error("api: create submission", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create submission")
		return
	}

	// Process asynchronously; the client polls the run or waits for the
	// draft-ready webhook.
	go func() {
		if _, err := h.intake.Start(h.runCtx, sub.ID); err != nil {
			zap.L().Error("api: intake run failed",
				zap.String("submission_id", sub.ID),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, sub)
}

func (h *apiHandler) getSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.store.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *apiHandler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.LoadRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *apiHandler) getDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := h.store.GetDraft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "draft not found")
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// editDraftField overwrites one field's value with a reviewer's edit. The
// field moves to user_edited and the prior value is kept in the edit
// history.
func (h *apiHandler) editDraftField(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "id")
	key := chi.URLParam(r, "key")

	var req struct {
		Value    any    `json:"value"`
		EditedBy string `json:"edited_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	draft, err := h.store.GetDraft(r.Context(), submissionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "draft not found")
		return
	}
	if draft.Confirmed {
		writeError(w, http.StatusConflict, "draft already confirmed")
		return
	}

	field := draft.Field(key)
	if field == nil {
		writeError(w, http.StatusNotFound, "field not in draft")
		return
	}

	draft.Edits = append(draft.Edits, model.DraftEdit{
		FieldKey: key,
		OldValue: field.Value,
		NewValue: req.Value,
		EditedBy: req.EditedBy,
		EditedAt: time.Now().UTC(),
	})
	field.Value = req.Value
	field.Status = model.FieldStatusUserEdited
	field.Reason = ""

	if err := h.store.SaveDraft(r.Context(), draft); err != nil {
		zap.L().Error("api: save draft edit", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save draft")
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (h *apiHandler) confirmDraft(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "id")

	draft, err := h.store.GetDraft(r.Context(), submissionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "draft not found")
		return
	}
	if draft.Confirmed {
		writeError(w, http.StatusConflict, "draft already confirmed")
		return
	}

	draft.Confirmed = true
	if err := h.store.SaveDraft(r.Context(), draft); err != nil {
		zap.L().Error("api: confirm draft", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to confirm draft")
		return
	}
	if err := h.store.UpdateSubmissionStatus(r.Context(), submissionID, model.SubmissionStatusConfirmed); err != nil {
		zap.L().Warn("api: mark submission confirmed", zap.Error(err))
	}

	if h.webhook != nil && h.webhook.Enabled() {
		payload := webhook.Payload{
			Event:        webhook.EventDraftConfirmed,
			SubmissionID: submissionID,
			RunID:        draft.RunID,
			Draft:        draft,
		}
		if sub, err := h.store.GetSubmission(r.Context(), submissionID); err == nil {
			payload.TenantID = sub.TenantID
		}
		go func() {
			if err := h.webhook.Send(h.runCtx, payload); err != nil {
				zap.L().Warn("api: draft-confirmed webhook", zap.Error(err))
			}
		}()
	}

	writeJSON(w, http.StatusOK, draft)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
