package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/accessguard/iga/internal/models"
	"github.com/accessguard/iga/internal/pipeline"
	"github.com/accessguard/iga/internal/queue"
	"github.com/accessguard/iga/internal/reports"
	"github.com/accessguard/iga/internal/store"
)

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, job *queue.Job) {
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID.String(),
		"stage":  job.Stage,
	})
}

func (s *Server) triggerDiscover(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, &queue.Job{Stage: pipeline.StageDiscover})
}

type createCampaignRequest struct {
	Name          string          `json:"name"`
	RiskThreshold models.RiskTier `json:"risk_threshold"`
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name is required")
		return
	}
	if req.RiskThreshold != "" && !req.RiskThreshold.Valid() {
		respondError(w, http.StatusBadRequest, "validation_error", "risk_threshold must be LOW, MEDIUM, or HIGH")
		return
	}

	s.enqueue(w, r, &queue.Job{
		Stage:         pipeline.StageBuild,
		CampaignName:  req.Name,
		RiskThreshold: req.RiskThreshold,
	})
}

func (s *Server) triggerEnrich(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}
	s.enqueue(w, r, &queue.Job{Stage: pipeline.StageEnrich, CampaignID: &id})
}

func (s *Server) triggerRemediate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}
	s.enqueue(w, r, &queue.Job{Stage: pipeline.StageRemediate, CampaignID: &id})
}

func (s *Server) triggerExport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}
	s.enqueue(w, r, &queue.Job{Stage: pipeline.StageExport, CampaignID: &id})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "jobID")
	if !ok {
		return
	}

	status, err := s.queue.GetStatus(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}
	if status == nil {
		respondError(w, http.StatusNotFound, "not_found", "Job not found")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}

	workers, err := s.queue.ActiveWorkers(r.Context(), 30*time.Second)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"queues":  stats,
		"workers": workers,
	})
}

func (s *Server) campaignReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}

	reportType := reports.ReportType(r.URL.Query().Get("type"))
	if reportType == "" {
		reportType = reports.ReportTypeCampaign
	}
	format := reports.ReportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = reports.FormatPDF
	}

	report, err := s.reportGenerator.Generate(r.Context(), &reports.ReportRequest{
		Type:       reportType,
		Format:     format,
		CampaignID: id,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "report_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", report.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.Filename+`"`)
	_, _ = w.Write(report.Data)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListEnabledSchedules(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, schedules)
}

type createScheduleRequest struct {
	Name     string       `json:"name"`
	CronExpr string       `json:"cron_expr"`
	Stage    string       `json:"stage"`
	Params   models.JSONB `json:"params"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Name == "" || req.CronExpr == "" || req.Stage == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name, cron_expr, and stage are required")
		return
	}

	sched := &store.Schedule{
		Name:     req.Name,
		CronExpr: req.CronExpr,
		Stage:    req.Stage,
		Params:   req.Params,
		Enabled:  true,
	}
	if err := s.store.CreateSchedule(r.Context(), sched); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	if err := s.scheduler.Reload(r.Context(), sched.ID); err != nil {
		respondError(w, http.StatusBadRequest, "schedule_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, sched)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "scheduleID")
	if !ok {
		return
	}

	sched, err := s.store.GetSchedule(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if sched == nil {
		respondError(w, http.StatusNotFound, "not_found", "Schedule not found")
		return
	}
	respondJSON(w, http.StatusOK, sched)
}

type setScheduleEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) setScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "scheduleID")
	if !ok {
		return
	}

	var req setScheduleEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if err := s.store.SetScheduleEnabled(r.Context(), id, req.Enabled); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	if err := s.scheduler.Reload(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "schedule_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "scheduleID")
	if !ok {
		return
	}

	if err := s.store.DeleteSchedule(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	if err := s.scheduler.Reload(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "schedule_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
