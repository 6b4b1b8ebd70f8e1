package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vrsandeep/mvidarr-go/internal/jobs"
)

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"version": s.app.Version})
}

func (s *Server) handleRunAdminJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		JobName string `json:"job_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	err := s.app.Jobs.RunJob(payload.JobName, s.app)
	if errors.Is(err, jobs.ErrJobNotFound) {
		RespondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusConflict, err.Error()) // 409 Conflict if a job is already running
		return
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": "Job '" + payload.JobName + "' started successfully.",
	})
}

func (s *Server) handleGetAdminJobsStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.app.Jobs.GetStatus()
	RespondWithJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleListActiveOperations(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.Engine.ActiveOperations())
}
