package daemon

import (
	"net/http"

	"aco/internal/pipeline"
	"aco/internal/scriptplan"
)

type pipelineRequest struct {
	keyBody
	ExtraPackages []string `json:"extra_packages"`
}

func (b pipelineRequest) options(r *http.Request) pipeline.Options {
	return pipeline.Options{APIKey: apiKey(r, b.APIKey), ExtraPackages: b.ExtraPackages}
}

func (s *apiServer) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	var body keyBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Planner.Generate(r.Context(), r.PathValue("id"), scriptplan.Options{APIKey: apiKey(r, body.APIKey)})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.svc.Planner.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *apiServer) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.svc.Planner.Approve(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *apiServer) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		keyBody
		Force bool `json:"force"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	script, err := s.svc.Planner.GenerateCode(r.Context(), r.PathValue("id"), r.PathValue("name"), scriptplan.Options{
		APIKey: apiKey(r, body.APIKey),
		Force:  body.Force,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

func (s *apiServer) handleGenerateAllCode(w http.ResponseWriter, r *http.Request) {
	var body pipelineRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Pipeline.GenerateAllCode(r.Context(), r.PathValue("id"), body.options(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleCreateEnv(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Pipeline.CreateEnv(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleEnvStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Pipeline.EnvStatus(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleInstallDeps(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Packages []string `json:"packages"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Pipeline.InstallDeps(r.Context(), r.PathValue("id"), body.Packages)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleExecuteAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Pipeline.ExecuteAll(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleStartPipeline(w http.ResponseWriter, r *http.Request) {
	s.startPipeline(w, r, false)
}

func (s *apiServer) handleRetryPipeline(w http.ResponseWriter, r *http.Request) {
	s.startPipeline(w, r, true)
}

// startPipeline launches the attempt in the background; clients poll
// GET /api/scripts/{id}/pipeline for progress.
func (s *apiServer) startPipeline(w http.ResponseWriter, r *http.Request, retry bool) {
	var body pipelineRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	attempt, err := s.svc.Pipeline.Start(r.PathValue("id"), body.options(r), retry)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, attempt)
}

func (s *apiServer) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Pipeline.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleCancelPipeline(w http.ResponseWriter, r *http.Request) {
	cancelled := s.svc.Pipeline.Cancel(r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}
