package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"aco/internal/logging"
	"aco/internal/manifest"
	"aco/internal/runs"
	"aco/internal/services"
	"aco/internal/services/llm"
	"aco/internal/understanding"
)

const maxReferenceBytes = 256 << 10

const strategySystem = `You are a bioinformatics scientist planning a sequencing QC analysis.
You receive an approved experiment understanding, the user's hypotheses, and optional reference scripts.

Rules for reference scripts: never rewrite them. Extract their intent, their key parameters
(expected columns, paths, barcode sequences), and what must change for the new run. Put those
findings in script_insights.

Gate criteria must be concrete and measurable, for example "mapping rate >= 80%%".
Mark an execution step is_deterministic only when one of these registered QC modules performs it:
%s`

const strategyPrompt = `# Experiment Understanding

%s

# User Hypotheses

What is wrong: %s
What to prove: %s

Structured hypotheses:
%s

# Instructions

Map every hypothesis to a test method and expected outcome, define the QC gate checklist,
list the modules and external tools required, and give an ordered execution plan.`

const insightSystem = `You are a bioinformatics code analyst. Extract a script's intent, parameters,
and adaptation notes for a new experiment. Do not produce new code.`

const suggestSystem = `You are a bioinformatics scientist helping a user articulate what may be wrong
with a sequencing run. Propose specific, testable hypotheses grounded in the experiment details.`

var (
	draftSchema = llm.MustSchemaFor[draft](map[string][]string{
		"gate_checklist.priority": GatePriorities,
	})
	insightSchema = llm.MustSchemaFor[ScriptInsight](nil)
	suggestSchema = llm.MustSchemaFor[suggestion](map[string][]string{
		"hypotheses.priority": HypothesisPriorities,
	})
)

type suggestion struct {
	WhatIsWrong string `json:"what_is_wrong"`
	WhatToProve string `json:"what_to_prove"`
	Hypotheses  []struct {
		Text      string `json:"text"`
		Priority  string `json:"priority"`
		Rationale string `json:"rationale"`
	} `json:"hypotheses"`
}

// GenerateOptions controls Generate.
type GenerateOptions struct {
	APIKey       string
	UserApproach string
}

// Engine stores the Analyze phase artifacts and generates strategies.
type Engine struct {
	store         *runs.Store
	manifests     *manifest.Service
	understanding *understanding.Engine
	llm           llm.Source
	logger        *slog.Logger
	now           func() time.Time
}

// NewEngine wires the strategy engine.
func NewEngine(store *runs.Store, manifests *manifest.Service, u *understanding.Engine, source llm.Source, logger *slog.Logger) *Engine {
	return &Engine{
		store:         store,
		manifests:     manifests,
		understanding: u,
		llm:           source,
		logger:        logging.NewComponentLogger(logger, "strategy"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SaveHypotheses validates and stores the hypothesis set, assigning ids to new
// hypotheses.
func (e *Engine) SaveHypotheses(id string, set HypothesisSet) (*HypothesisSet, error) {
	if err := e.requireRun(id, "save hypotheses"); err != nil {
		return nil, err
	}
	now := e.now()
	set.ManifestID = id
	set.UpdatedAt = now
	if existing, _ := e.loadHypotheses(id); existing != nil {
		set.CreatedAt = existing.CreatedAt
	}
	if set.CreatedAt.IsZero() {
		set.CreatedAt = now
	}
	if set.Hypotheses == nil {
		set.Hypotheses = []Hypothesis{}
	}
	for i := range set.Hypotheses {
		h := &set.Hypotheses[i]
		h.Text = strings.TrimSpace(h.Text)
		if h.Text == "" {
			return nil, services.Wrap(services.ErrValidation, "strategy", "save hypotheses", fmt.Sprintf("hypothesis %d has no text", i+1), nil)
		}
		if h.Priority == "" {
			h.Priority = "medium"
		}
		if !slices.Contains(HypothesisPriorities, h.Priority) {
			return nil, services.Wrap(services.ErrValidation, "strategy", "save hypotheses", "unknown priority "+h.Priority, nil)
		}
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
	}
	if err := e.store.Save(id, runs.KindHypotheses, set); err != nil {
		return nil, err
	}
	return &set, nil
}

// GetHypotheses returns the stored hypothesis set.
func (e *Engine) GetHypotheses(id string) (*HypothesisSet, error) {
	set, err := e.loadHypotheses(id)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, services.Wrap(services.ErrNotFound, "strategy", "get hypotheses", "no hypotheses saved yet", nil)
	}
	return set, nil
}

// SuggestHypotheses asks the model for hypotheses worth testing. The suggestion
// is returned and not stored.
func (e *Engine) SuggestHypotheses(ctx context.Context, id, apiKey string) (*HypothesisSet, error) {
	ctx = services.WithStep(services.WithRunID(ctx, id), "hypothesis")
	m, err := e.manifests.Get(id)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString(m.ToLLMContext())
	if u, _ := e.understanding.Get(id); u != nil {
		encoded, _ := json.MarshalIndent(u, "", "  ")
		b.WriteString("\n\n# Experiment Understanding\n\n")
		b.Write(encoded)
	}
	b.WriteString("\n\nSuggest what might be wrong with this run, what the user should try to prove, and three to six prioritized hypotheses.")

	client, err := e.llm.Client(apiKey)
	if err != nil {
		return nil, err
	}
	var reply suggestion
	if err := client.CompleteStructured(ctx, llm.Request{System: suggestSystem, Prompt: b.String(), Temperature: 0.5}, suggestSchema, &reply); err != nil {
		return nil, llm.WrapError("strategy", "suggest hypotheses", err)
	}
	now := e.now()
	set := &HypothesisSet{
		ManifestID:  id,
		WhatIsWrong: reply.WhatIsWrong,
		WhatToProve: reply.WhatToProve,
		Hypotheses:  make([]Hypothesis, 0, len(reply.Hypotheses)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, h := range reply.Hypotheses {
		hyp := Hypothesis{ID: uuid.NewString(), Text: h.Text, Priority: h.Priority}
		if r := strings.TrimSpace(h.Rationale); r != "" {
			hyp.Rationale = &r
		}
		set.Hypotheses = append(set.Hypotheses, hyp)
	}
	return set, nil
}

// SaveReferences stores the reference selection. References given only a path
// have their content read from disk.
func (e *Engine) SaveReferences(id string, refs []ReferenceScript) (*ReferenceSet, error) {
	if err := e.requireRun(id, "save references"); err != nil {
		return nil, err
	}
	for i := range refs {
		ref := &refs[i]
		ref.Path = strings.TrimSpace(ref.Path)
		if ref.Content == "" {
			if ref.Path == "" {
				return nil, services.Wrap(services.ErrValidation, "strategy", "save references", fmt.Sprintf("reference %d needs a path or content", i+1), nil)
			}
			data, err := os.ReadFile(ref.Path)
			if err != nil {
				return nil, services.Wrap(services.ErrValidation, "strategy", "save references", "read "+ref.Path, err)
			}
			if len(data) > maxReferenceBytes {
				data = data[:maxReferenceBytes]
			}
			ref.Content = string(data)
		}
		if ref.Name == "" {
			ref.Name = filepath.Base(ref.Path)
		}
		if ref.Language == "" {
			ref.Language = languageFor(ref.Name)
		}
		if ref.RefType == "" {
			ref.RefType = "script"
		}
	}
	if refs == nil {
		refs = []ReferenceScript{}
	}
	set := &ReferenceSet{ManifestID: id, References: refs, SavedAt: e.now()}
	if err := e.store.Save(id, runs.KindReferences, set); err != nil {
		return nil, err
	}
	return set, nil
}

// GetReferences returns the stored references.
func (e *Engine) GetReferences(id string) (*ReferenceSet, error) {
	var set ReferenceSet
	found, err := e.store.Load(id, runs.KindReferences, &set)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, services.Wrap(services.ErrNotFound, "strategy", "get references", "no references saved yet", nil)
	}
	return &set, nil
}

// ExtractInsights analyses each stored reference script. When a strategy exists
// its script_insights are replaced with the result.
func (e *Engine) ExtractInsights(ctx context.Context, id, apiKey string) ([]ScriptInsight, error) {
	ctx = services.WithStep(services.WithRunID(ctx, id), "strategy")
	u, err := e.understanding.RequireApproved(id)
	if err != nil {
		return nil, err
	}
	refs, err := e.GetReferences(id)
	if err != nil {
		return nil, err
	}
	client, err := e.llm.Client(apiKey)
	if err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("Experiment: %s (%s)\nPlatform: %s\nSummary: %s",
		u.AssayName, u.ExperimentType, u.AssayPlatform, truncate(u.Summary, 400))

	insights := make([]ScriptInsight, 0, len(refs.References))
	for _, ref := range refs.References {
		prompt := "# Reference Script Analysis\n\nDescribe the intent, key parameters, and adaptation notes of the attached script.\n\n## New Experiment Context\n" + summary
		req := llm.Request{
			System:      insightSystem,
			Prompt:      prompt,
			Attachments: []llm.Attachment{{Name: ref.Name, MIMEType: "text/plain", Data: []byte(ref.Content)}},
			Temperature: 0.2,
		}
		var insight ScriptInsight
		if err := client.CompleteStructured(ctx, req, insightSchema, &insight); err != nil {
			return nil, llm.WrapError("strategy", "extract insights", err)
		}
		insight.ScriptPath = firstNonEmpty(ref.Path, ref.Name)
		if insight.Parameters == nil {
			insight.Parameters = map[string]string{}
		}
		if insight.AdaptationNotes == nil {
			insight.AdaptationNotes = []string{}
		}
		insights = append(insights, insight)
	}

	if s, _ := e.load(id); s != nil {
		s.ScriptInsights = insights
		if err := e.store.Save(id, runs.KindStrategy, s); err != nil {
			return nil, err
		}
	}
	return insights, nil
}

// Generate produces a strategy from the approved understanding, hypotheses,
// and references. A failed generation leaves any stored strategy untouched.
func (e *Engine) Generate(ctx context.Context, id string, opts GenerateOptions) (*AnalysisStrategy, error) {
	ctx = services.WithStep(services.WithRunID(ctx, id), "strategy")
	u, err := e.understanding.RequireApproved(id)
	if err != nil {
		return nil, err
	}
	hyps, err := e.loadHypotheses(id)
	if err != nil {
		return nil, err
	}
	var refs []ReferenceScript
	if set, err := e.GetReferences(id); err == nil {
		refs = set.References
	}

	encoded, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode understanding: %w", err)
	}
	wrong, prove, list := formatHypotheses(hyps)
	prompt := fmt.Sprintf(strategyPrompt, encoded, wrong, prove, list)
	approach := strings.TrimSpace(opts.UserApproach)
	if approach != "" {
		prompt += "\n\n# User-Specified Analysis Approach\n\n" + approach
	}
	attachments := make([]llm.Attachment, 0, len(refs))
	for _, ref := range refs {
		attachments = append(attachments, llm.Attachment{Name: ref.Name, MIMEType: "text/plain", Data: []byte(ref.Content)})
	}

	client, err := e.llm.Client(opts.APIKey)
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(ctx, e.logger)
	var reply draft
	req := llm.Request{
		System:      fmt.Sprintf(strategySystem, moduleCatalog()),
		Prompt:      prompt,
		Attachments: attachments,
		Temperature: 0.3,
		MaxTokens:   8192,
	}
	if err := client.CompleteStructured(ctx, req, draftSchema, &reply); err != nil {
		logging.WarnWithContext(logger, "strategy generation failed", "strategy_generate_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "previous strategy kept"),
		)
		return nil, llm.WrapError("strategy", "generate", err)
	}

	s := &AnalysisStrategy{
		ManifestID:       id,
		HypothesesToTest: reply.HypothesesToTest,
		GateChecklist:    reply.GateChecklist,
		RequiredModules:  reply.RequiredModules,
		RequiredTools:    reply.RequiredTools,
		ExecutionPlan:    reply.ExecutionPlan,
		ScriptInsights:   reply.ScriptInsights,
		Summary:          reply.Summary,
		GeneratedAt:      e.now(),
		ModelUsed:        client.Model(),
	}
	if approach != "" {
		s.UserApproach = &approach
	}
	s.normalize()
	if err := e.store.Save(id, runs.KindStrategy, s); err != nil {
		return nil, err
	}
	logger.Info("strategy generated",
		logging.String(logging.FieldEventType, "strategy_generated"),
		logging.Int("gates", len(s.GateChecklist)),
		logging.Int("steps", len(s.ExecutionPlan)),
		logging.Int("references", len(refs)),
	)
	return s, nil
}

// Get returns the stored strategy.
func (e *Engine) Get(id string) (*AnalysisStrategy, error) {
	s, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, services.Wrap(services.ErrNotFound, "strategy", "get", "no strategy generated yet", nil)
	}
	return s, nil
}

// Update persists a client-edited strategy wholesale. Approval is cleared.
func (e *Engine) Update(id string, s *AnalysisStrategy) (*AnalysisStrategy, error) {
	if s == nil {
		return nil, services.Wrap(services.ErrValidation, "strategy", "update", "strategy is required", nil)
	}
	if err := e.requireRun(id, "update"); err != nil {
		return nil, err
	}
	for _, gate := range s.GateChecklist {
		if gate.Priority != "" && !slices.Contains(GatePriorities, gate.Priority) {
			return nil, services.Wrap(services.ErrValidation, "strategy", "update", "unknown gate priority "+gate.Priority, nil)
		}
	}
	s.ManifestID = id
	s.IsApproved = false
	s.ApprovedAt = nil
	if s.GeneratedAt.IsZero() {
		s.GeneratedAt = e.now()
	}
	s.normalize()
	if err := e.store.Save(id, runs.KindStrategy, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Approve marks the strategy approved.
func (e *Engine) Approve(id string) (*AnalysisStrategy, error) {
	s, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	s.IsApproved = true
	s.ApprovedAt = &now
	if err := e.store.Save(id, runs.KindStrategy, s); err != nil {
		return nil, err
	}
	return s, nil
}

// SavePlots stores the plot selection.
func (e *Engine) SavePlots(id string, sel PlotSelection) (*PlotSelection, error) {
	if err := e.requireRun(id, "save plots"); err != nil {
		return nil, err
	}
	sel.ManifestID = id
	sel.CreatedAt = e.now()
	if sel.SelectedPlots == nil {
		sel.SelectedPlots = []string{}
	}
	if sel.SelectedTests == nil {
		sel.SelectedTests = []string{}
	}
	if err := e.store.Save(id, runs.KindPlots, sel); err != nil {
		return nil, err
	}
	return &sel, nil
}

// GetPlots returns the stored plot selection.
func (e *Engine) GetPlots(id string) (*PlotSelection, error) {
	var sel PlotSelection
	found, err := e.store.Load(id, runs.KindPlots, &sel)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, services.Wrap(services.ErrNotFound, "strategy", "get plots", "no plot selection saved yet", nil)
	}
	return &sel, nil
}

func (e *Engine) requireRun(id, op string) error {
	if err := runs.ValidateID(id); err != nil {
		return err
	}
	if !e.store.Has(id, runs.KindManifest) {
		return services.Wrap(services.ErrNotFound, "strategy", op, "manifest not found: "+id, nil)
	}
	return nil
}

func (e *Engine) load(id string) (*AnalysisStrategy, error) {
	var s AnalysisStrategy
	found, err := e.store.Load(id, runs.KindStrategy, &s)
	if err != nil || !found {
		return nil, err
	}
	s.normalize()
	return &s, nil
}

func (e *Engine) loadHypotheses(id string) (*HypothesisSet, error) {
	var set HypothesisSet
	found, err := e.store.Load(id, runs.KindHypotheses, &set)
	if err != nil || !found {
		return nil, err
	}
	return &set, nil
}

func formatHypotheses(set *HypothesisSet) (string, string, string) {
	const none = "(none provided)"
	if set == nil {
		return none, none, "(none)"
	}
	wrong := firstNonEmpty(strings.TrimSpace(set.WhatIsWrong), none)
	prove := firstNonEmpty(strings.TrimSpace(set.WhatToProve), none)
	if len(set.Hypotheses) == 0 {
		return wrong, prove, "(none)"
	}
	var b strings.Builder
	for _, h := range set.Hypotheses {
		fmt.Fprintf(&b, "- [%s] %s\n", strings.ToUpper(h.Priority), h.Text)
		if h.Rationale != nil && *h.Rationale != "" {
			fmt.Fprintf(&b, "  Rationale: %s\n", *h.Rationale)
		}
	}
	return wrong, prove, strings.TrimRight(b.String(), "\n")
}

func languageFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".py":
		return "python"
	case ".r", ".rmd":
		return "r"
	case ".sh", ".bash":
		return "bash"
	case ".nf":
		return "nextflow"
	case ".smk":
		return "snakemake"
	default:
		return "text"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
