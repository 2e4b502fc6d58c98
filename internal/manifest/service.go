package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"aco/internal/logging"
	"aco/internal/runs"
	"aco/internal/scanner"
	"aco/internal/services"
	"aco/internal/services/llm"
)

const maxExtractedTextBytes = 256 << 10

// DeleteHook removes state kept outside the run directory, such as pipeline
// attempts, when a run is deleted.
type DeleteHook func(ctx context.Context, runID string) error

// Service creates and edits manifests.
type Service struct {
	store    *runs.Store
	scanOpts scanner.Options
	logger   *slog.Logger
	now      func() time.Time
	onDelete []DeleteHook
}

// NewService builds a manifest service over the run store.
func NewService(store *runs.Store, scanOpts scanner.Options, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		scanOpts: scanOpts,
		logger:   logging.NewComponentLogger(logger, "manifest"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OnDelete registers a hook run after a run directory is removed.
func (s *Service) OnDelete(hook DeleteHook) {
	if hook != nil {
		s.onDelete = append(s.onDelete, hook)
	}
}

// NewID returns a fresh manifest identifier.
func NewID() string {
	return "manifest_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Create stores a new manifest from intake, scanning the target directory when
// one is given.
func (s *Service) Create(ctx context.Context, intake UserIntake) (*Manifest, error) {
	intake.ExperimentDescription = strings.TrimSpace(intake.ExperimentDescription)
	if intake.ExperimentDescription == "" {
		return nil, services.Wrap(services.ErrValidation, "manifest", "create", "experiment_description is required", nil)
	}
	now := s.now()
	if intake.CreatedAt.IsZero() {
		intake.CreatedAt = now
	}
	if intake.Documents == nil {
		intake.Documents = []DocumentReference{}
	}
	m := &Manifest{
		ID:         NewID(),
		Version:    Version,
		CreatedAt:  now,
		UpdatedAt:  now,
		UserIntake: intake,
		Status:     StatusDraft,
		Metadata:   map[string]any{},
	}
	ctx = services.WithRunID(ctx, m.ID)

	if dir := strings.TrimSpace(intake.TargetDirectory); dir != "" {
		result, err := scanner.Scan(ctx, dir, s.scanOpts)
		if err != nil {
			return nil, err
		}
		m.ScanResult = result
		m.Status = StatusReady
	}
	if err := s.save(m); err != nil {
		return nil, err
	}
	logging.WithContext(ctx, s.logger).Info("manifest created",
		logging.String(logging.FieldEventType, "manifest_created"),
		logging.Bool("scanned", m.ScanResult != nil),
	)
	return m, nil
}

// Get loads a manifest.
func (s *Service) Get(id string) (*Manifest, error) {
	var m Manifest
	found, err := s.store.Load(id, runs.KindManifest, &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, services.Wrap(services.ErrNotFound, "manifest", "get", "manifest not found: "+id, nil)
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	return &m, nil
}

// Update applies patch to the intake. A rescan replaces the scan result.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*Manifest, error) {
	m, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	intake := &m.UserIntake
	if patch.ExperimentDescription != nil {
		desc := strings.TrimSpace(*patch.ExperimentDescription)
		if desc == "" {
			return nil, services.Wrap(services.ErrValidation, "manifest", "update", "experiment_description must not be empty", nil)
		}
		intake.ExperimentDescription = desc
	}
	if patch.Goals != nil {
		intake.Goals = patch.Goals
	}
	if patch.KnownIssues != nil {
		intake.KnownIssues = patch.KnownIssues
	}
	if patch.AdditionalNotes != nil {
		intake.AdditionalNotes = patch.AdditionalNotes
	}
	if patch.TargetDirectory != nil {
		intake.TargetDirectory = strings.TrimSpace(*patch.TargetDirectory)
	}
	for k, v := range patch.Metadata {
		m.Metadata[k] = v
	}
	if patch.Rescan {
		if err := s.rescan(ctx, m, intake.TargetDirectory); err != nil {
			return nil, err
		}
	}
	m.UpdatedAt = s.now()
	if err := s.save(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Rescan scans path (or the manifest's target directory when path is empty) and
// replaces the stored scan result wholesale.
func (s *Service) Rescan(ctx context.Context, id, path string) (*Manifest, error) {
	m, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = m.UserIntake.TargetDirectory
	}
	if err := s.rescan(ctx, m, path); err != nil {
		return nil, err
	}
	m.UpdatedAt = s.now()
	if err := s.save(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) rescan(ctx context.Context, m *Manifest, path string) error {
	if path == "" {
		return services.Wrap(services.ErrValidation, "manifest", "rescan", "no target directory to scan", nil)
	}
	result, err := scanner.Scan(services.WithRunID(ctx, m.ID), path, s.scanOpts)
	if err != nil {
		return err
	}
	m.UserIntake.TargetDirectory = path
	m.ScanResult = result
	m.Status = StatusReady
	return nil
}

// AttachDocument stores an uploaded document with the run and references it
// from the intake. Text documents have their content extracted for prompts.
func (s *Service) AttachDocument(id, filename, contentType, description string, body []byte) (*DocumentReference, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, services.Wrap(services.ErrValidation, "manifest", "attach document", "filename is required", nil)
	}
	m, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	path, err := s.store.SaveFile(id, filepath.ToSlash(filepath.Join(runs.DocumentsDir, name)), body)
	if err != nil {
		return nil, err
	}
	size := int64(len(body))
	ref := DocumentReference{
		Filename:    name,
		Path:        &path,
		ContentType: &contentType,
		SizeBytes:   &size,
	}
	if description = strings.TrimSpace(description); description != "" {
		ref.Description = &description
	}
	if isTextType(contentType) && utf8.Valid(body) {
		text := body
		if len(text) > maxExtractedTextBytes {
			text = text[:maxExtractedTextBytes]
		}
		extracted := string(text)
		ref.ExtractedText = &extracted
	}

	docs := m.UserIntake.Documents[:0]
	for _, doc := range m.UserIntake.Documents {
		if doc.Filename != name {
			docs = append(docs, doc)
		}
	}
	m.UserIntake.Documents = append(docs, ref)
	m.UpdatedAt = s.now()
	if err := s.save(m); err != nil {
		return nil, err
	}
	return &ref, nil
}

// Attachments returns the uploaded documents as LLM attachments. Documents whose
// files have gone missing are skipped.
func (m *Manifest) Attachments() []llm.Attachment {
	out := make([]llm.Attachment, 0, len(m.UserIntake.Documents))
	for _, doc := range m.UserIntake.Documents {
		if doc.Path == nil {
			continue
		}
		data, err := os.ReadFile(*doc.Path)
		if err != nil {
			continue
		}
		mimeType := "application/octet-stream"
		if doc.ContentType != nil {
			mimeType = *doc.ContentType
		}
		out = append(out, llm.Attachment{Name: doc.Filename, MIMEType: mimeType, Data: data})
	}
	return out
}

// Delete removes the run directory and then runs the delete hooks.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}
	for _, hook := range s.onDelete {
		if err := hook(ctx, id); err != nil {
			logging.WarnWithContext(logging.WithContext(services.WithRunID(ctx, id), s.logger),
				"run cleanup hook failed", "run_cleanup_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "attempt history for the deleted run may linger"),
			)
		}
	}
	return nil
}

func (s *Service) save(m *Manifest) error {
	if err := s.store.Save(m.ID, runs.KindManifest, m); err != nil {
		return err
	}
	if m.ScanResult != nil {
		if err := s.store.Save(m.ID, runs.KindScan, m.ScanResult); err != nil {
			return fmt.Errorf("save scan: %w", err)
		}
	}
	return nil
}

func isTextType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text") || strings.Contains(ct, "json") ||
		strings.Contains(ct, "csv") || strings.Contains(ct, "yaml")
}
