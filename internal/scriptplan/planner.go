package scriptplan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aco/internal/fileutil"
	"aco/internal/logging"
	"aco/internal/manifest"
	"aco/internal/runs"
	"aco/internal/services"
	"aco/internal/services/llm"
	"aco/internal/strategy"
	"aco/internal/understanding"
)

const maxPromptFiles = 200

const planSystem = `You are a bioinformatics engineer who writes small, single-purpose QC scripts.
Plan the scripts needed to quality-check a sequencing run. Each script has a unique snake_case
name, a category, a language, the packages it needs, and the names of scripts whose outputs it
reads (depends_on). Prefer python. Keep the plan short: every script must earn its place.`

const codeSystem = `You are a bioinformatics engineer. Write one complete, runnable QC script.
The script must accept --output-dir and write every output file inside it. It must not prompt
for input, must exit non-zero on failure, and must print a short summary to stdout.
Return the source code only in the code field, without markdown fences.`

var (
	planSchema = llm.MustSchemaFor[planDraft](map[string][]string{
		"scripts.category":    Categories,
		"scripts.script_type": ScriptTypes,
	})
	codeSchema = llm.MustSchemaFor[codeDraft](nil)
)

type scriptDraft struct {
	Name                    string   `json:"name" jsonschema:"Unique snake_case script name without extension"`
	Category                string   `json:"category"`
	ScriptType              string   `json:"script_type"`
	Description             string   `json:"description" jsonschema:"What the script computes and why"`
	Dependencies            []string `json:"dependencies" jsonschema:"Packages to install, such as pysam"`
	DependsOn               []string `json:"depends_on" jsonschema:"Names of scripts that must run first"`
	InputPatterns           []string `json:"input_patterns" jsonschema:"Glob patterns of input files"`
	OutputPatterns          []string `json:"output_patterns" jsonschema:"Glob patterns of files the script writes"`
	EstimatedRuntimeSeconds int      `json:"estimated_runtime_seconds"`
	RequiresApproval        bool     `json:"requires_approval,omitempty"`
}

type planDraft struct {
	Scripts []scriptDraft `json:"scripts"`
}

type codeDraft struct {
	Code         string   `json:"code"`
	Dependencies []string `json:"dependencies,omitempty" jsonschema:"Packages the code imports that are not in the standard library"`
}

// Options carries per-request LLM settings.
type Options struct {
	APIKey string
	// Force regenerates code for scripts that already have it.
	Force bool
}

// GenerateResult is the outcome of plan generation.
type GenerateResult struct {
	Plan    *ScriptPlan   `json:"plan"`
	Changes ChangeSummary `json:"changes"`
}

// CodeResult reports which scripts were coded.
type CodeResult struct {
	Generated  []string `json:"generated"`
	Failed     []string `json:"failed"`
	ScriptsDir string   `json:"scripts_dir"`
}

// Planner generates, stores, and codes script plans.
type Planner struct {
	store         *runs.Store
	manifests     *manifest.Service
	understanding *understanding.Engine
	strategies    *strategy.Engine
	llm           llm.Source
	concurrency   int
	logger        *slog.Logger

	mu sync.Mutex
}

// NewPlanner wires a planner. concurrency bounds parallel code generation.
func NewPlanner(store *runs.Store, manifests *manifest.Service, u *understanding.Engine, s *strategy.Engine, source llm.Source, concurrency int, logger *slog.Logger) *Planner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Planner{
		store:         store,
		manifests:     manifests,
		understanding: u,
		strategies:    s,
		llm:           source,
		concurrency:   concurrency,
		logger:        logging.NewComponentLogger(logger, "scriptplan"),
	}
}

// Get returns the stored plan.
func (p *Planner) Get(id string) (*ScriptPlan, error) {
	plan, err := p.load(id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, services.Wrap(services.ErrNotFound, "scriptplan", "get", "no script plan found; generate one first", nil)
	}
	return plan, nil
}

// Generate asks the model for a plan, merges it with the stored plan, and saves
// it. Requires an approved understanding.
func (p *Planner) Generate(ctx context.Context, id string, opts Options) (*GenerateResult, error) {
	ctx = services.WithStep(services.WithRunID(ctx, id), "scripts")
	m, err := p.manifests.Get(id)
	if err != nil {
		return nil, err
	}
	u, err := p.understanding.RequireApproved(id)
	if err != nil {
		return nil, err
	}
	prompt, err := p.planPrompt(m, u, id)
	if err != nil {
		return nil, err
	}
	client, err := p.llm.Client(opts.APIKey)
	if err != nil {
		return nil, err
	}

	var reply planDraft
	req := llm.Request{System: planSystem, Prompt: prompt, Temperature: 0.3, MaxTokens: 8192}
	if err := client.CompleteStructured(ctx, req, planSchema, &reply); err != nil {
		return nil, llm.WrapError("scriptplan", "generate", err)
	}
	scripts := make([]PlannedScript, 0, len(reply.Scripts))
	for _, d := range reply.Scripts {
		scripts = append(scripts, PlannedScript{
			Name:                    d.Name,
			Category:                d.Category,
			ScriptType:              d.ScriptType,
			Description:             d.Description,
			Dependencies:            d.Dependencies,
			DependsOn:               d.DependsOn,
			InputPatterns:           d.InputPatterns,
			OutputPatterns:          d.OutputPatterns,
			EstimatedRuntimeSeconds: d.EstimatedRuntimeSeconds,
			RequiresApproval:        d.RequiresApproval,
		})
	}
	plan, err := New(id, scripts)
	if err != nil {
		return nil, services.Wrap(services.ErrUpstream, "scriptplan", "generate", "llm returned an invalid plan", err)
	}
	plan.ModelUsed = client.Model()

	result, err := p.Replace(id, plan)
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, p.logger).Info("script plan generated",
		logging.String(logging.FieldEventType, "plan_generated"),
		logging.Int("scripts", len(result.Plan.Scripts)),
		logging.Int("added", len(result.Changes.AddedScripts)),
		logging.Int("removed", len(result.Changes.RemovedScripts)),
	)
	return result, nil
}

// Replace merges plan with the stored plan, saves it, and reports the changes.
// Approval is kept only when nothing changed.
func (p *Planner) Replace(id string, plan *ScriptPlan) (*GenerateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	old, err := p.load(id)
	if err != nil {
		return nil, err
	}
	plan.ManifestID = id
	changes := Diff(old, plan)
	Merge(old, plan)
	if old != nil && changes.Empty() {
		plan.IsApproved = old.IsApproved
		plan.ApprovedAt = old.ApprovedAt
	} else {
		plan.IsApproved = false
		plan.ApprovedAt = nil
	}
	if plan.GeneratedAt.IsZero() {
		plan.GeneratedAt = time.Now().UTC()
	}
	if err := p.save(id, plan); err != nil {
		return nil, err
	}
	return &GenerateResult{Plan: plan, Changes: changes}, nil
}

// Approve marks the plan approved for execution.
func (p *Planner) Approve(id string) (*ScriptPlan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, err := p.Get(id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	plan.IsApproved = true
	plan.ApprovedAt = &now
	if err := p.store.Save(id, runs.KindPlan, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Update applies fn to the stored plan under the planner lock and saves it.
func (p *Planner) Update(id string, fn func(*ScriptPlan) error) (*ScriptPlan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, err := p.Get(id)
	if err != nil {
		return nil, err
	}
	if err := fn(plan); err != nil {
		return nil, err
	}
	if err := p.store.Save(id, runs.KindPlan, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// GenerateCode writes source code for one script.
func (p *Planner) GenerateCode(ctx context.Context, id, name string, opts Options) (*PlannedScript, error) {
	ctx = services.WithStep(services.WithRunID(ctx, id), "scripts")
	plan, err := p.Get(id)
	if err != nil {
		return nil, err
	}
	script, ok := plan.Script(name)
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "scriptplan", "generate code", fmt.Sprintf("script %q not found in plan", name), nil)
	}
	cc, err := p.codeContext(id)
	if err != nil {
		return nil, err
	}
	client, err := p.llm.Client(opts.APIKey)
	if err != nil {
		return nil, err
	}
	draft, err := p.writeCode(ctx, client, cc, *script)
	if err != nil {
		return nil, llm.WrapError("scriptplan", "generate code", err)
	}
	updated, err := p.applyCode(id, map[string]codeDraft{name: draft})
	if err != nil {
		return nil, err
	}
	s, _ := updated.Script(name)
	return s, nil
}

// GenerateAllCode writes code for every script lacking it, or for every script
// when opts.Force is set. Scripts are coded concurrently; a failure for one
// script does not stop the others. When any script fails the returned error
// names them and the result still lists what succeeded.
func (p *Planner) GenerateAllCode(ctx context.Context, id string, opts Options) (*CodeResult, error) {
	ctx = services.WithStep(services.WithRunID(ctx, id), "generating_code")
	plan, err := p.Get(id)
	if err != nil {
		return nil, err
	}
	scriptsDir, err := p.store.Sub(id, runs.ScriptsDir)
	if err != nil {
		return nil, err
	}
	result := &CodeResult{Generated: []string{}, Failed: []string{}, ScriptsDir: scriptsDir}

	var todo []PlannedScript
	for _, name := range plan.ExecutionOrder {
		s, _ := plan.Script(name)
		if opts.Force || s.Code == "" {
			todo = append(todo, *s)
		}
	}
	if len(todo) == 0 {
		return result, nil
	}
	cc, err := p.codeContext(id)
	if err != nil {
		return nil, err
	}
	client, err := p.llm.Client(opts.APIKey)
	if err != nil {
		return nil, err
	}

	logger := logging.WithContext(ctx, p.logger)
	drafts := make([]codeDraft, len(todo))
	errs := make([]error, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, script := range todo {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			drafts[i], errs[i] = p.writeCode(gctx, client, cc, script)
			return nil
		})
	}
	_ = g.Wait()

	coded := make(map[string]codeDraft, len(todo))
	for i, script := range todo {
		if errs[i] != nil {
			logging.WarnWithContext(logger, "script code generation failed", "codegen_failed",
				logging.String(logging.FieldScript, script.Name),
				logging.Error(errs[i]),
				logging.String(logging.FieldImpact, "script has no runnable code"),
			)
			result.Failed = append(result.Failed, script.Name)
			continue
		}
		coded[script.Name] = drafts[i]
		result.Generated = append(result.Generated, script.Name)
	}
	if len(coded) > 0 {
		if _, err := p.applyCode(id, coded); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return result, services.Wrap(services.ErrTransient, "scriptplan", "generate code", "canceled", err)
	}
	if len(result.Failed) > 0 {
		return result, services.Wrap(services.ErrUpstream, "scriptplan", "generate code",
			"code generation failed for: "+strings.Join(result.Failed, ", "), nil)
	}
	return result, nil
}

// ScriptPath returns where a script's source is written.
func (p *Planner) ScriptPath(id string, s PlannedScript) (string, error) {
	return p.store.Sub(id, runs.ScriptsDir, s.Name+s.Extension())
}

// OutputDir returns the directory a script writes its outputs to.
func (p *Planner) OutputDir(id string, s PlannedScript) (string, error) {
	return p.store.Sub(id, runs.ExecutionDir, "output", s.Category)
}

type codeContext struct {
	manifest      string
	understanding string
	strategy      string
	files         []string
}

func (p *Planner) codeContext(id string) (codeContext, error) {
	m, err := p.manifests.Get(id)
	if err != nil {
		return codeContext{}, err
	}
	cc := codeContext{manifest: m.ToLLMContext()}
	if u, err := p.understanding.Get(id); err == nil {
		encoded, _ := json.MarshalIndent(u, "", "  ")
		cc.understanding = string(encoded)
	}
	if s, err := p.strategies.Get(id); err == nil {
		encoded, _ := json.MarshalIndent(s, "", "  ")
		cc.strategy = string(encoded)
	}
	if m.ScanResult != nil {
		for i, f := range m.ScanResult.Files {
			if i == maxPromptFiles {
				break
			}
			cc.files = append(cc.files, f.Path)
		}
	}
	return cc, nil
}

func (p *Planner) planPrompt(m *manifest.Manifest, u *understanding.ExperimentUnderstanding, id string) (string, error) {
	encoded, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode understanding: %w", err)
	}
	var b strings.Builder
	b.WriteString("# Manifest\n\n")
	b.WriteString(m.ToLLMContext())
	b.WriteString("\n\n# Approved Experiment Understanding\n\n")
	b.Write(encoded)
	if s, err := p.strategies.Get(id); err == nil {
		enc, _ := json.MarshalIndent(s, "", "  ")
		b.WriteString("\n\n# Analysis Strategy\n\n")
		b.Write(enc)
	}
	b.WriteString("\n\nPlan the QC scripts for this run.")
	return b.String(), nil
}

func (p *Planner) writeCode(ctx context.Context, client llm.Completer, cc codeContext, s PlannedScript) (codeDraft, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Script\n\nName: %s\nLanguage: %s\nCategory: %s\nDescription: %s\n", s.Name, s.ScriptType, s.Category, s.Description)
	fmt.Fprintf(&b, "Packages available: %s\n", strings.Join(s.Dependencies, ", "))
	fmt.Fprintf(&b, "Input patterns: %s\n", strings.Join(s.InputPatterns, ", "))
	fmt.Fprintf(&b, "Outputs to write under --output-dir: %s\n", strings.Join(s.OutputPatterns, ", "))
	if len(s.DependsOn) > 0 {
		fmt.Fprintf(&b, "Runs after: %s\n", strings.Join(s.DependsOn, ", "))
	}
	if len(cc.files) > 0 {
		b.WriteString("\n# Input Files\n\n")
		for _, f := range cc.files {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n# Manifest\n\n")
	b.WriteString(cc.manifest)
	if cc.understanding != "" {
		b.WriteString("\n\n# Experiment Understanding\n\n")
		b.WriteString(cc.understanding)
	}
	if cc.strategy != "" {
		b.WriteString("\n\n# Analysis Strategy\n\n")
		b.WriteString(cc.strategy)
	}

	var draft codeDraft
	req := llm.Request{System: codeSystem, Prompt: b.String(), Temperature: 0.2, MaxTokens: 8192}
	if err := client.CompleteStructured(ctx, req, codeSchema, &draft); err != nil {
		return codeDraft{}, err
	}
	draft.Code = stripFence(draft.Code)
	if strings.TrimSpace(draft.Code) == "" {
		return codeDraft{}, &llm.ContractError{Op: "llm code", Reason: "empty code"}
	}
	return draft, nil
}

// applyCode stores generated code in the plan and on disk. New code invalidates
// the script's previous result.
func (p *Planner) applyCode(id string, coded map[string]codeDraft) (*ScriptPlan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, err := p.Get(id)
	if err != nil {
		return nil, err
	}
	for name, draft := range coded {
		s, ok := plan.Script(name)
		if !ok {
			continue
		}
		s.Code = draft.Code
		s.Result = nil
		for _, dep := range draft.Dependencies {
			if dep = strings.TrimSpace(dep); dep != "" && !containsFold(s.Dependencies, dep) {
				s.Dependencies = append(s.Dependencies, dep)
			}
		}
	}
	if err := p.save(id, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// save writes plan.json, every coded script, and requirements.txt.
func (p *Planner) save(id string, plan *ScriptPlan) error {
	if err := p.store.Save(id, runs.KindPlan, plan); err != nil {
		return err
	}
	for _, s := range plan.Scripts {
		if s.Code == "" {
			continue
		}
		path, err := p.ScriptPath(id, s)
		if err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if s.ScriptType == TypeBash {
			mode = 0o755
		}
		if err := fileutil.WriteFileAtomic(path, []byte(s.Code), mode); err != nil {
			return services.Wrap(services.ErrTransient, "scriptplan", "save", "write "+filepath.Base(path), err)
		}
	}
	reqs := Requirements(plan)
	content := strings.Join(reqs, "\n")
	if content != "" {
		content += "\n"
	}
	if _, err := p.store.SaveFile(id, runs.ScriptsDir+"/requirements.txt", []byte(content)); err != nil {
		return err
	}
	return nil
}

func (p *Planner) load(id string) (*ScriptPlan, error) {
	var plan ScriptPlan
	found, err := p.store.Load(id, runs.KindPlan, &plan)
	if err != nil || !found {
		return nil, err
	}
	for i := range plan.Scripts {
		normalizeScript(&plan.Scripts[i])
	}
	return &plan, nil
}

func stripFence(code string) string {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "```") {
		return code
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return code
	}
	lines = lines[1:]
	if last := strings.TrimSpace(lines[len(lines)-1]); last == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
