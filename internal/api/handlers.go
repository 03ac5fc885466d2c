package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

func (s *Server) listIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := s.store.ListIdentities(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, identities)
}

func (s *Server) listEntitlements(w http.ResponseWriter, r *http.Request) {
	entitlements, err := s.store.ListEntitlements(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entitlements)
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	var status *models.CampaignStatus
	if q := r.URL.Query().Get("status"); q != "" {
		st := models.CampaignStatus(q)
		if st != models.CampaignOpen && st != models.CampaignClosed {
			respondError(w, http.StatusBadRequest, "validation_error", "status must be open or closed")
			return
		}
		status = &st
	}

	campaigns, err := s.store.ListCampaigns(r.Context(), status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, campaigns)
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}

	campaign, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if campaign == nil {
		respondError(w, http.StatusNotFound, "not_found", "Campaign not found")
		return
	}
	respondJSON(w, http.StatusOK, campaign)
}

func (s *Server) listCampaignTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}

	tasks, err := s.store.ListTasksForCampaign(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) listCampaignDecisions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}

	decisions, err := s.store.ListDecisionsForCampaign(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, decisions)
}

func (s *Server) listCampaignActions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}

	actions, err := s.store.ListActionsForCampaign(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, actions)
}

func (s *Server) closeCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}

	if err := s.store.CloseCampaign(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			respondError(w, http.StatusConflict, "conflict", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "taskID")
	if !ok {
		return
	}

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if task == nil {
		respondError(w, http.StatusNotFound, "not_found", "Task not found")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

type recordDecisionRequest struct {
	Verdict  models.Verdict `json:"verdict"`
	Reviewer string         `json:"reviewer"`
}

func (s *Server) recordDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "taskID")
	if !ok {
		return
	}

	var req recordDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	decision, err := s.collector.Record(r.Context(), id, req.Verdict, req.Reviewer)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConfiguration):
			respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		case errors.Is(err, models.ErrNotFound):
			respondError(w, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, models.ErrConflict):
			respondError(w, http.StatusConflict, "conflict", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusCreated, decision)
}

func (s *Server) listCampaignArtifacts(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}

	artifacts, err := s.store.ListAuditArtifacts(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, artifacts)
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "artifactID")
	if !ok {
		return
	}

	artifact, err := s.store.GetAuditArtifact(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if artifact == nil {
		respondError(w, http.StatusNotFound, "not_found", "Artifact not found")
		return
	}
	respondJSON(w, http.StatusOK, artifact)
}

func (s *Server) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "artifactID")
	if !ok {
		return
	}

	artifact, err := s.store.GetAuditArtifact(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if artifact == nil {
		respondError(w, http.StatusNotFound, "not_found", "Artifact not found")
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.ContentHash+`.json"`)
		_, _ = w.Write(artifact.JSONData)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.ContentHash+`.csv"`)
		_, _ = w.Write(artifact.CSVData)
	default:
		respondError(w, http.StatusBadRequest, "validation_error", "format must be json or csv")
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
