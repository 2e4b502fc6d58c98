package understanding

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"aco/internal/logging"
	"aco/internal/manifest"
	"aco/internal/runs"
	"aco/internal/services"
	"aco/internal/services/llm"
)

const systemPrompt = `You are a bioinformatics scientist who specializes in sequencing quality control.
You read experiment manifests and describe the experiment precisely: its type, platform and assay,
read layout, samples, likely quality problems, and the QC checks worth running.
Ground every statement in the manifest. When evidence is thin, lower the confidence and say why.`

const promptTemplate = `Interpret the sequencing experiment described by this manifest.

%s

Report:
- the experiment type with a confidence between 0 and 1 and the evidence for it
- the platform and assay kit, and the library preparation details you can infer
- the read structure: every barcode, UMI, insert, linker and index segment with 1-based positions
- the samples, their conditions and replicates, and which files belong to each
- key parameters such as expected cells, read configuration and reference genome
- quality concerns, each tagged info, warning or critical
- recommended QC checks, each tagged required, recommended or optional
- a short summary of the experiment

Refer to actual file names from the manifest.`

// GenerateOptions controls Generate.
type GenerateOptions struct {
	APIKey     string
	Regenerate bool
}

// Engine produces and stores experiment understandings.
type Engine struct {
	store     *runs.Store
	manifests *manifest.Service
	llm       llm.Source
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine wires the engine to the run store and an LLM source.
func NewEngine(store *runs.Store, manifests *manifest.Service, source llm.Source, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		manifests: manifests,
		llm:       source,
		logger:    logging.NewComponentLogger(logger, "understanding"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Generate asks the model to interpret the manifest. An existing understanding
// is returned unchanged unless Regenerate is set. A failed generation leaves the
// stored understanding untouched.
func (e *Engine) Generate(ctx context.Context, id string, opts GenerateOptions) (*ExperimentUnderstanding, error) {
	ctx = services.WithStep(services.WithRunID(ctx, id), "understanding")
	m, err := e.manifests.Get(id)
	if err != nil {
		return nil, err
	}
	if !opts.Regenerate {
		existing, err := e.load(id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	client, err := e.llm.Client(opts.APIKey)
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(ctx, e.logger)
	started := time.Now()

	var reply draft
	req := llm.Request{
		System:      systemPrompt,
		Prompt:      fmt.Sprintf(promptTemplate, m.ToLLMContext()),
		Attachments: m.Attachments(),
		Temperature: 0.3,
	}
	if err := client.CompleteStructured(ctx, req, draftSchema, &reply); err != nil {
		logging.WarnWithContext(logger, "understanding generation failed", "understanding_generate_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "retry generation or check the LLM credential"),
			logging.String(logging.FieldImpact, "previous understanding kept"),
		)
		return nil, llm.WrapError("understanding", "generate", err)
	}

	u := reply.understanding(client.Model(), e.now())
	if err := e.store.Save(id, runs.KindUnderstanding, u); err != nil {
		return nil, err
	}
	logger.Info("understanding generated",
		logging.String(logging.FieldEventType, "understanding_generated"),
		logging.String("experiment_type", u.ExperimentType),
		logging.Float64("confidence", u.ExperimentTypeConfidence),
		logging.Duration("duration", time.Since(started)),
	)
	return u, nil
}

// Get returns the stored understanding.
func (e *Engine) Get(id string) (*ExperimentUnderstanding, error) {
	u, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, services.Wrap(services.ErrNotFound, "understanding", "get", "understanding not found for manifest: "+id, nil)
	}
	return u, nil
}

// Replace stores u wholesale, clearing approval.
func (e *Engine) Replace(id string, u *ExperimentUnderstanding) error {
	if u == nil {
		return services.Wrap(services.ErrValidation, "understanding", "replace", "understanding is required", nil)
	}
	if err := validateEnums(u); err != nil {
		return err
	}
	u.IsApproved = false
	u.ApprovedAt = nil
	u.normalize()
	return e.store.Save(id, runs.KindUnderstanding, u)
}

// ApplyEdits updates editable fields, records each edit in user_edits, and
// clears approval.
func (e *Engine) ApplyEdits(id string, edits map[string]string) (*ExperimentUnderstanding, error) {
	u, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(edits))
	for k := range edits {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, field := range keys {
		if err := applyEdit(u, field, edits[field]); err != nil {
			return nil, err
		}
		u.UserEdits[field] = edits[field]
	}
	u.IsApproved = false
	u.ApprovedAt = nil
	if err := e.store.Save(id, runs.KindUnderstanding, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Approve marks the understanding approved, optionally applying edits first.
func (e *Engine) Approve(id string, edits map[string]string) (*ExperimentUnderstanding, error) {
	u, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if len(edits) > 0 {
		if u, err = e.ApplyEdits(id, edits); err != nil {
			return nil, err
		}
	}
	now := e.now()
	u.IsApproved = true
	u.ApprovedAt = &now
	if err := e.store.Save(id, runs.KindUnderstanding, u); err != nil {
		return nil, err
	}
	logging.WithContext(services.WithRunID(context.Background(), id), e.logger).Info("understanding approved",
		logging.String(logging.FieldEventType, "understanding_approved"),
	)
	return u, nil
}

// RequireApproved returns the understanding, or ErrConflict when it is missing or
// not yet approved.
func (e *Engine) RequireApproved(id string) (*ExperimentUnderstanding, error) {
	u, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, services.Wrap(services.ErrConflict, "understanding", "gate", "understanding has not been generated for "+id, nil)
	}
	if !u.IsApproved {
		return nil, services.Wrap(services.ErrConflict, "understanding", "gate", "understanding must be approved before continuing", nil)
	}
	return u, nil
}

func (e *Engine) load(id string) (*ExperimentUnderstanding, error) {
	var u ExperimentUnderstanding
	found, err := e.store.Load(id, runs.KindUnderstanding, &u)
	if err != nil || !found {
		return nil, err
	}
	u.normalize()
	return &u, nil
}

func applyEdit(u *ExperimentUnderstanding, field, value string) error {
	invalid := func(msg string) error {
		return services.Wrap(services.ErrValidation, "understanding", "edit", fmt.Sprintf("%s: %s", field, msg), nil)
	}
	switch {
	case field == "experiment_type":
		if !slices.Contains(ExperimentTypes, value) {
			return invalid("unknown experiment type " + strconv.Quote(value))
		}
		u.ExperimentType = value
	case field == "assay_platform":
		if !slices.Contains(AssayPlatforms, value) {
			return invalid("unknown assay platform " + strconv.Quote(value))
		}
		u.AssayPlatform = value
	case field == "assay_name":
		u.AssayName = value
	case field == "reasoning":
		u.Reasoning = value
	case field == "summary":
		u.Summary = value
	case field == "sample_count":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return invalid("must be a non-negative integer")
		}
		u.SampleCount = n
	case strings.HasPrefix(field, "key_parameters."):
		name := strings.TrimPrefix(field, "key_parameters.")
		if name == "" {
			return invalid("parameter name is required")
		}
		if value == "" {
			delete(u.KeyParameters, name)
		} else {
			u.KeyParameters[name] = value
		}
	default:
		return invalid("field is not editable")
	}
	return nil
}

func validateEnums(u *ExperimentUnderstanding) error {
	if u.ExperimentType != "" && !slices.Contains(ExperimentTypes, u.ExperimentType) {
		return services.Wrap(services.ErrValidation, "understanding", "validate", "unknown experiment type "+strconv.Quote(u.ExperimentType), nil)
	}
	for _, c := range u.QualityConcerns {
		if !slices.Contains(Severities, c.Severity) {
			return services.Wrap(services.ErrValidation, "understanding", "validate", "unknown severity "+strconv.Quote(c.Severity), nil)
		}
	}
	for _, c := range u.RecommendedChecks {
		if !slices.Contains(CheckPriorities, c.Priority) {
			return services.Wrap(services.ErrValidation, "understanding", "validate", "unknown priority "+strconv.Quote(c.Priority), nil)
		}
	}
	return nil
}
