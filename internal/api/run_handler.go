package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/api/middleware"
	"github.com/storyloom/storyloom-api/internal/api/shared"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/service"
)

// EnhancementService is the application-service surface the run handlers
// depend on.
type EnhancementService interface {
	StartRun(ctx context.Context, params service.StartRunParams) (*domain.EnhancementRun, error)
	GetRunStatus(ctx context.Context, runID, userID uuid.UUID) (*service.RunView, error)
}

// RunHandler serves the enhancement run endpoints.
type RunHandler struct {
	service EnhancementService
}

// NewRunHandler creates a RunHandler over the given service.
func NewRunHandler(svc EnhancementService) *RunHandler {
	return &RunHandler{
		service: svc,
	}
}

// StartRun handles POST /api/runs. A valid request is accepted with 202 and
// the run ID; the pipeline proceeds asynchronously.
func (h *RunHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req StartRunRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.service.StartRun(r.Context(), service.StartRunParams{
		UserID:      userID,
		ChapterID:   req.ChapterID,
		ChapterText: req.ChapterText,
		StylePreset: req.StylePreset,
		CapScenes:   req.CapScenes,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, StartRunResponse{RunID: run.ID})
}

// GetRun handles GET /api/runs/{id}.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid run ID")
		return
	}

	view, err := h.service.GetRunStatus(r.Context(), runID, userID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, toRunStatusResponse(view))
}

func toRunStatusResponse(view *service.RunView) RunStatusResponse {
	resp := RunStatusResponse{
		RunID:      view.Run.ID,
		Status:     string(view.Run.Status),
		Scenes:     make([]SceneResponse, 0, len(view.Scenes)),
		StartedAt:  view.Run.StartedAt,
		FinishedAt: view.Run.FinishedAt,
		Error:      view.Run.Error,
	}
	for _, sv := range view.Scenes {
		resp.Scenes = append(resp.Scenes, SceneResponse{
			Idx:          sv.Scene.Idx,
			Title:        sv.Scene.Title,
			Status:       string(sv.Scene.Status),
			CurrentImage: sv.CurrentImageID,
		})
	}
	return resp
}
