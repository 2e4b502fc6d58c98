package daemon

import (
	"net/http"

	"aco/internal/notebook"
	"aco/internal/report"
	"aco/internal/services"
)

func (s *apiServer) handleGenerateNotebook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		keyBody
		Language string `json:"language"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	nb, err := s.svc.Notebooks.Generate(r.Context(), r.PathValue("id"), notebook.Options{
		Language: body.Language,
		APIKey:   apiKey(r, body.APIKey),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nb)
}

func (s *apiServer) handleGetNotebook(w http.ResponseWriter, r *http.Request) {
	nb, err := s.svc.Notebooks.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nb)
}

func (s *apiServer) handleDownloadNotebook(w http.ResponseWriter, r *http.Request) {
	data, name, contentType, err := s.svc.Notebooks.Download(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeDownload(w, data, name, contentType)
}

func (s *apiServer) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var body keyBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	rep, err := s.svc.Reports.Generate(r.Context(), r.PathValue("id"), report.Options{APIKey: apiKey(r, body.APIKey)})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *apiServer) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Reports.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *apiServer) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	data, name, contentType, err := s.svc.Reports.Download(r.PathValue("id"), r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeDownload(w, data, name, contentType)
}

func (s *apiServer) handleExportRun(w http.ResponseWriter, r *http.Request) {
	if s.svc.Export == nil {
		s.writeError(w, r, services.Wrap(services.ErrConfiguration, "export", "publish", "export is not enabled", nil))
		return
	}
	res, err := s.svc.Export.Publish(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
