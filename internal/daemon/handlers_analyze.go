package daemon

import (
	"net/http"

	"aco/internal/strategy"
)

func (s *apiServer) handleGetHypotheses(w http.ResponseWriter, r *http.Request) {
	set, err := s.svc.Strategy.GetHypotheses(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, set)
}

func (s *apiServer) handleSaveHypotheses(w http.ResponseWriter, r *http.Request) {
	var set strategy.HypothesisSet
	if err := decodeJSON(w, r, &set); err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.svc.Strategy.SaveHypotheses(r.PathValue("id"), set)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *apiServer) handleSuggestHypotheses(w http.ResponseWriter, r *http.Request) {
	var body keyBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	set, err := s.svc.Strategy.SuggestHypotheses(r.Context(), r.PathValue("id"), apiKey(r, body.APIKey))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, set)
}

func (s *apiServer) handleGetReferences(w http.ResponseWriter, r *http.Request) {
	set, err := s.svc.Strategy.GetReferences(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, set)
}

func (s *apiServer) handleSaveReferences(w http.ResponseWriter, r *http.Request) {
	var body struct {
		References []strategy.ReferenceScript `json:"references"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	set, err := s.svc.Strategy.SaveReferences(r.PathValue("id"), body.References)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, set)
}

func (s *apiServer) handleReferenceInsights(w http.ResponseWriter, r *http.Request) {
	var body keyBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	insights, err := s.svc.Strategy.ExtractInsights(r.Context(), r.PathValue("id"), apiKey(r, body.APIKey))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}

func (s *apiServer) handleGenerateStrategy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		keyBody
		UserApproach string `json:"user_approach"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.svc.Strategy.Generate(r.Context(), r.PathValue("id"), strategy.GenerateOptions{
		APIKey:       apiKey(r, body.APIKey),
		UserApproach: body.UserApproach,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *apiServer) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Strategy.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *apiServer) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	var st strategy.AnalysisStrategy
	if err := decodeJSON(w, r, &st); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.svc.Strategy.Update(r.PathValue("id"), &st)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *apiServer) handleApproveStrategy(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Strategy.Approve(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *apiServer) handleStrategyYAML(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Strategy.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := strategy.ExportYAML(st)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeDownload(w, data, "analysis_strategy.yaml", "application/yaml")
}

// handleListModules lists the deterministic QC modules strategies may reference.
func (s *apiServer) handleListModules(w http.ResponseWriter, _ *http.Request) {
	mods := strategy.Modules()
	s.writeJSON(w, http.StatusOK, map[string]any{"modules": mods, "count": len(mods)})
}

func (s *apiServer) handleGetPlots(w http.ResponseWriter, r *http.Request) {
	sel, err := s.svc.Strategy.GetPlots(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sel)
}

func (s *apiServer) handleSavePlots(w http.ResponseWriter, r *http.Request) {
	var sel strategy.PlotSelection
	if err := decodeJSON(w, r, &sel); err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.svc.Strategy.SavePlots(r.PathValue("id"), sel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}
