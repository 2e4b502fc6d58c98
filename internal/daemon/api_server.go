package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"aco/internal/config"
	"aco/internal/logging"
	"aco/internal/services"
)

const (
	maxJSONBody   = 8 << 20
	maxUploadBody = 64 << 20
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	svc     Services
	cfg     *config.Config
	metrics *apiMetrics
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		logger:  logging.NewComponentLogger(logger, "api-server"),
		daemon:  d,
		svc:     d.svc,
		cfg:     cfg,
		metrics: newAPIMetrics(),
	}

	mux := http.NewServeMux()
	srv.routes(mux)
	srv.handler = requestMiddleware(srv.logger, srv.metrics, authMiddleware(cfg.Paths.APIToken, mux))

	srv.server = &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Generation and synchronous execution routes wait on the model and
		// on scripts, so writes get the script timeout plus headroom.
		WriteTimeout: writeTimeout(cfg),
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

func writeTimeout(cfg *config.Config) time.Duration {
	timeout := 10 * time.Minute
	if script := time.Duration(cfg.Execution.ScriptTimeoutSeconds) * time.Second; script+time.Minute > timeout {
		timeout = script + time.Minute
	}
	return timeout
}

func (s *apiServer) routes(mux *http.ServeMux) {
	mux.Handle("GET /metrics", s.metrics.handler())

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("PUT /api/config/api-key", s.handleSetAPIKey)

	mux.HandleFunc("POST /api/intake", s.handleIntake)
	mux.HandleFunc("POST /api/intake/{id}/documents", s.handleUploadDocument)
	mux.HandleFunc("POST /api/scan", s.handleScanPreview)
	mux.HandleFunc("POST /api/manifest/{id}/rescan", s.handleRescan)
	mux.HandleFunc("GET /api/manifest/{id}", s.handleGetManifest)
	mux.HandleFunc("PUT /api/manifest/{id}", s.handleUpdateManifest)
	mux.HandleFunc("DELETE /api/manifest/{id}", s.handleDeleteRun)

	mux.HandleFunc("POST /api/understanding/{id}/generate", s.handleGenerateUnderstanding)
	mux.HandleFunc("GET /api/understanding/{id}", s.handleGetUnderstanding)
	mux.HandleFunc("PATCH /api/understanding/{id}", s.handleEditUnderstanding)
	mux.HandleFunc("POST /api/understanding/{id}/approve", s.handleApproveUnderstanding)

	mux.HandleFunc("GET /api/analyze/modules", s.handleListModules)
	mux.HandleFunc("GET /api/analyze/{id}/hypotheses", s.handleGetHypotheses)
	mux.HandleFunc("PUT /api/analyze/{id}/hypotheses", s.handleSaveHypotheses)
	mux.HandleFunc("POST /api/analyze/{id}/hypotheses/suggest", s.handleSuggestHypotheses)
	mux.HandleFunc("GET /api/analyze/{id}/references", s.handleGetReferences)
	mux.HandleFunc("PUT /api/analyze/{id}/references", s.handleSaveReferences)
	mux.HandleFunc("POST /api/analyze/{id}/references/insights", s.handleReferenceInsights)
	mux.HandleFunc("POST /api/analyze/{id}/strategy/generate", s.handleGenerateStrategy)
	mux.HandleFunc("GET /api/analyze/{id}/strategy", s.handleGetStrategy)
	mux.HandleFunc("PUT /api/analyze/{id}/strategy", s.handleUpdateStrategy)
	mux.HandleFunc("POST /api/analyze/{id}/strategy/approve", s.handleApproveStrategy)
	mux.HandleFunc("GET /api/analyze/{id}/strategy.yaml", s.handleStrategyYAML)
	mux.HandleFunc("GET /api/analyze/{id}/plots", s.handleGetPlots)
	mux.HandleFunc("PUT /api/analyze/{id}/plots", s.handleSavePlots)

	mux.HandleFunc("POST /api/scripts/{id}/plan", s.handleGeneratePlan)
	mux.HandleFunc("GET /api/scripts/{id}/plan", s.handleGetPlan)
	mux.HandleFunc("POST /api/scripts/{id}/plan/approve", s.handleApprovePlan)
	mux.HandleFunc("POST /api/scripts/{id}/code/{name}", s.handleGenerateCode)
	mux.HandleFunc("POST /api/scripts/{id}/generate-all-code", s.handleGenerateAllCode)
	mux.HandleFunc("POST /api/scripts/{id}/create-env", s.handleCreateEnv)
	mux.HandleFunc("GET /api/scripts/{id}/env-status", s.handleEnvStatus)
	mux.HandleFunc("POST /api/scripts/{id}/install-deps", s.handleInstallDeps)
	mux.HandleFunc("POST /api/scripts/{id}/execute-all", s.handleExecuteAll)
	mux.HandleFunc("POST /api/scripts/{id}/pipeline", s.handleStartPipeline)
	mux.HandleFunc("POST /api/scripts/{id}/pipeline/retry", s.handleRetryPipeline)
	mux.HandleFunc("GET /api/scripts/{id}/pipeline", s.handlePipelineStatus)
	mux.HandleFunc("DELETE /api/scripts/{id}/pipeline", s.handleCancelPipeline)

	mux.HandleFunc("POST /api/notebooks/{id}/generate", s.handleGenerateNotebook)
	mux.HandleFunc("GET /api/notebooks/{id}", s.handleGetNotebook)
	mux.HandleFunc("GET /api/notebooks/{id}/download", s.handleDownloadNotebook)
	mux.HandleFunc("POST /api/reports/{id}/generate", s.handleGenerateReport)
	mux.HandleFunc("GET /api/reports/{id}", s.handleGetReport)
	mux.HandleFunc("GET /api/reports/{id}/download", s.handleDownloadReport)

	mux.HandleFunc("POST /api/chat/{id}/{step}", s.handleChatSend)
	mux.HandleFunc("GET /api/chat/{id}/{step}", s.handleChatHistory)
	mux.HandleFunc("DELETE /api/chat/{id}/{step}", s.handleChatClear)

	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /api/runs/{id}/progress", s.handleProgress)
	mux.HandleFunc("POST /api/runs/{id}/progress", s.handleAdvance)
	mux.HandleFunc("POST /api/runs/compare", s.handleCompareRuns)
	mux.HandleFunc("POST /api/runs/{id}/export", s.handleExportRun)
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api listen: paths.api_bind is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.listener = nil
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

// writeError maps a marked service error to its status code and a
// {"detail": ...} body. Unmarked errors are logged and reported as 500.
func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("request failed",
			logging.String(logging.FieldEventType, "api_request_failed"),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	detail := services.Detail(err)
	if !services.Marked(err) {
		detail = "internal server error"
	}
	writeDetail(w, status, detail)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// decodeJSON reads an optional JSON body. An empty body leaves target untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return services.Wrap(services.ErrValidation, "api", "decode", "request body too large", nil)
		}
		return services.Wrap(services.ErrValidation, "api", "decode", "invalid JSON body: "+err.Error(), nil)
	}
	return nil
}

// apiKey returns the per-request credential override: the X-API-Key header
// wins over an api_key body field.
func apiKey(r *http.Request, body string) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(body)
}

// keyBody is embedded in request bodies that accept a credential override.
type keyBody struct {
	APIKey string `json:"api_key"`
}

func writeDownload(w http.ResponseWriter, data []byte, filename, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
