package daemon

import (
	"io"
	"net/http"
	"strings"

	"aco/internal/credentials"
	"aco/internal/manifest"
	"aco/internal/scanner"
	"aco/internal/services"
)

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"server": s.daemon.Status(),
	})
}

type configResponse struct {
	Model          string `json:"model"`
	BaseURL        string `json:"base_url"`
	APIKeySet      bool   `json:"api_key_set"`
	APIKeySource   string `json:"api_key_source,omitempty"`
	APIKeyMasked   string `json:"api_key_masked,omitempty"`
	RunsDir        string `json:"runs_dir"`
	ExportEnabled  bool   `json:"export_enabled"`
	MaxParallel    int    `json:"max_parallel_scripts"`
	ScriptTimeoutS int    `json:"script_timeout_seconds"`
}

func (s *apiServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	llmCfg := s.cfg.GetLLM()
	key, source := s.svc.Credentials.Current()
	s.writeJSON(w, http.StatusOK, configResponse{
		Model:          llmCfg.Model,
		BaseURL:        llmCfg.BaseURL,
		APIKeySet:      key != "",
		APIKeySource:   source,
		APIKeyMasked:   credentials.Mask(key),
		RunsDir:        s.cfg.Paths.RunsDir,
		ExportEnabled:  s.svc.Export != nil && s.svc.Export.Enabled(),
		MaxParallel:    s.cfg.Execution.MaxParallelScripts,
		ScriptTimeoutS: s.cfg.Execution.ScriptTimeoutSeconds,
	})
}

func (s *apiServer) handleSetAPIKey(w http.ResponseWriter, r *http.Request) {
	var body keyBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Credentials.Set(body.APIKey); err != nil {
		s.writeError(w, r, err)
		return
	}
	key, source := s.svc.Credentials.Current()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"api_key_set":    true,
		"api_key_source": source,
		"api_key_masked": credentials.Mask(key),
	})
}

func (s *apiServer) handleIntake(w http.ResponseWriter, r *http.Request) {
	var intake manifest.UserIntake
	if err := decodeJSON(w, r, &intake); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.svc.Manifests.Create(r.Context(), intake)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *apiServer) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload document", "expected a multipart form with a file field", nil))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload document", "file field is required", nil))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload document", "read upload", err))
		return
	}
	doc, err := s.svc.Manifests.AttachDocument(id, header.Filename, header.Header.Get("Content-Type"), r.FormValue("description"), data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, doc)
}

type scanRequest struct {
	Path          string `json:"path"`
	MaxDepth      int    `json:"max_depth"`
	IncludeHidden bool   `json:"include_hidden"`
}

func (s *apiServer) handleScanPreview(w http.ResponseWriter, r *http.Request) {
	var body scanRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.Path) == "" {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "scan", "path is required", nil))
		return
	}
	opts := scanner.Options{MaxDepth: s.cfg.Scanner.MaxDepth, IncludeHidden: body.IncludeHidden}
	if body.MaxDepth > 0 {
		opts.MaxDepth = body.MaxDepth
	}
	result, err := scanner.Scan(r.Context(), body.Path, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleRescan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.svc.Manifests.Rescan(r.Context(), r.PathValue("id"), body.Path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *apiServer) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.Manifests.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *apiServer) handleUpdateManifest(w http.ResponseWriter, r *http.Request) {
	var patch manifest.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.svc.Manifests.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}
