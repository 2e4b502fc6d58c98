package notebook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"aco/internal/logging"
	"aco/internal/runs"
	"aco/internal/scriptplan"
	"aco/internal/services"
	"aco/internal/services/llm"
	"aco/internal/strategy"
	"aco/internal/understanding"
)

const maxResultOutput = 1500

const notebookSystem = `You are a bioinformatics analyst writing a reproducible QC analysis notebook.
Alternate short markdown cells that explain intent with code cells that load the result files
produced by the QC scripts, plot the selected figures, and run the selected statistical tests.
Code cells must be valid %s. Reference output files by the paths given. Do not invent data.`

var draftSchema = llm.MustSchemaFor[draft](map[string][]string{
	"cells.cell_type": {CellMarkdown, CellCode},
})

var nameSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// Options controls Generate.
type Options struct {
	Language string
	APIKey   string
}

// Generator produces and stores notebooks.
type Generator struct {
	store         *runs.Store
	understanding *understanding.Engine
	strategy      *strategy.Engine
	planner       *scriptplan.Planner
	llm           llm.Source
	logger        *slog.Logger
	now           func() time.Time
}

// NewGenerator wires the notebook generator.
func NewGenerator(store *runs.Store, u *understanding.Engine, s *strategy.Engine, planner *scriptplan.Planner, source llm.Source, logger *slog.Logger) *Generator {
	return &Generator{
		store:         store,
		understanding: u,
		strategy:      s,
		planner:       planner,
		llm:           source,
		logger:        logging.NewComponentLogger(logger, "notebook"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Generate writes a new notebook for the run, replacing any earlier one.
func (g *Generator) Generate(ctx context.Context, id string, opts Options) (*GeneratedNotebook, error) {
	ctx = services.WithStep(services.WithRunID(ctx, id), "notebook")
	language := strings.ToLower(strings.TrimSpace(opts.Language))
	if language == "" {
		language = LanguagePython
	}
	if !slices.Contains(Languages, language) {
		return nil, services.Wrap(services.ErrValidation, "notebook", "generate", "unsupported language "+language, nil)
	}
	u, err := g.understanding.Get(id)
	if err != nil {
		return nil, err
	}
	prompt, err := g.prompt(id, u, language)
	if err != nil {
		return nil, err
	}

	client, err := g.llm.Client(opts.APIKey)
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(ctx, g.logger)
	var reply draft
	req := llm.Request{
		System:      fmt.Sprintf(notebookSystem, languageLabel(language)),
		Prompt:      prompt,
		Temperature: 0.3,
		MaxTokens:   8192,
	}
	if err := client.CompleteStructured(ctx, req, draftSchema, &reply); err != nil {
		logging.WarnWithContext(logger, "notebook generation failed", "notebook_generate_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "previous notebook kept"),
		)
		return nil, llm.WrapError("notebook", "generate", err)
	}
	if len(reply.Cells) == 0 {
		return nil, llm.WrapError("notebook", "generate", &llm.ContractError{Op: "notebook generate", Reason: "notebook has no cells"})
	}

	nb := &GeneratedNotebook{
		Name:         notebookName(reply.Name, u),
		Language:     language,
		Title:        strings.TrimSpace(reply.Title),
		Description:  reply.Description,
		Cells:        reply.Cells,
		Dependencies: reply.Dependencies,
		GeneratedAt:  g.now(),
		ModelUsed:    client.Model(),
	}
	if nb.Title == "" {
		nb.Title = "QC Analysis"
	}
	if nb.Dependencies == nil {
		nb.Dependencies = []string{}
	}
	if err := g.save(id, nb); err != nil {
		return nil, err
	}
	logger.Info("notebook generated",
		logging.String(logging.FieldEventType, "notebook_generated"),
		logging.String("language", language),
		logging.Int("cells", len(nb.Cells)),
	)
	return nb, nil
}

// Get returns the stored notebook.
func (g *Generator) Get(id string) (*GeneratedNotebook, error) {
	var nb GeneratedNotebook
	found, err := g.store.Load(id, runs.KindNotebook, &nb)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, services.Wrap(services.ErrNotFound, "notebook", "get", "no notebook generated yet", nil)
	}
	return &nb, nil
}

// Replace stores an edited notebook.
func (g *Generator) Replace(id string, nb *GeneratedNotebook) error {
	if len(nb.Cells) == 0 {
		return services.Wrap(services.ErrValidation, "notebook", "replace", "notebook needs at least one cell", nil)
	}
	for i, c := range nb.Cells {
		if c.CellType != CellMarkdown && c.CellType != CellCode {
			return services.Wrap(services.ErrValidation, "notebook", "replace", fmt.Sprintf("cell %d has unknown type %q", i+1, c.CellType), nil)
		}
	}
	if !slices.Contains(Languages, nb.Language) {
		return services.Wrap(services.ErrValidation, "notebook", "replace", "unsupported language "+nb.Language, nil)
	}
	return g.save(id, nb)
}

// Download returns the exported notebook along with its file name and
// content type.
func (g *Generator) Download(id string) ([]byte, string, string, error) {
	nb, err := g.Get(id)
	if err != nil {
		return nil, "", "", err
	}
	data, contentType, err := Export(nb)
	if err != nil {
		return nil, "", "", services.Wrap(services.ErrValidation, "notebook", "download", "export", err)
	}
	return data, nb.Filename(), contentType, nil
}

func (g *Generator) save(id string, nb *GeneratedNotebook) error {
	if err := g.store.Save(id, runs.KindNotebook, nb); err != nil {
		return err
	}
	data, _, err := Export(nb)
	if err != nil {
		return fmt.Errorf("export notebook: %w", err)
	}
	_, err = g.store.SaveFile(id, path.Join(runs.NotebookDir, nb.Filename()), data)
	return err
}

func (g *Generator) prompt(id string, u *understanding.ExperimentUnderstanding, language string) (string, error) {
	encoded, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode understanding: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Experiment Understanding\n\n%s\n", encoded)

	if s, _ := g.strategy.Get(id); s != nil {
		b.WriteString("\n# QC Gates\n\n")
		for _, gate := range s.GateChecklist {
			fmt.Fprintf(&b, "- %s: pass when %s; fail when %s\n", gate.GateName, gate.PassCriteria, gate.FailCriteria)
		}
		if s.Summary != "" {
			fmt.Fprintf(&b, "\nStrategy summary: %s\n", s.Summary)
		}
	}
	if sel, _ := g.strategy.GetPlots(id); sel != nil {
		b.WriteString("\n# Selected Plots and Tests\n\n")
		for _, p := range sel.SelectedPlots {
			fmt.Fprintf(&b, "- plot: %s\n", p)
		}
		for _, t := range sel.SelectedTests {
			fmt.Fprintf(&b, "- test: %s\n", t)
		}
		if custom := strings.TrimSpace(sel.CustomPlotRequests); custom != "" {
			fmt.Fprintf(&b, "\nCustom requests: %s\n", custom)
		}
	}
	if plan, _ := g.planner.Get(id); plan != nil {
		b.WriteString("\n# Script Results\n")
		for _, s := range plan.Scripts {
			writeResult(&b, s)
		}
	}
	fmt.Fprintf(&b, "\n# Instructions\n\nWrite a %s notebook that summarizes the QC results above.", languageLabel(language))
	return b.String(), nil
}

func writeResult(b *strings.Builder, s scriptplan.PlannedScript) {
	fmt.Fprintf(b, "\n## %s (%s)\n%s\n", s.Name, s.Category, s.Description)
	r := s.Result
	if r == nil {
		b.WriteString("Not executed.\n")
		return
	}
	status := "succeeded"
	if !r.Success {
		status = fmt.Sprintf("failed with exit code %d", r.ExitCode)
	}
	fmt.Fprintf(b, "Status: %s\n", status)
	if len(r.OutputFiles) > 0 {
		fmt.Fprintf(b, "Output files: %s\n", strings.Join(r.OutputFiles, ", "))
	}
	if out := strings.TrimSpace(r.Stdout); out != "" {
		fmt.Fprintf(b, "Stdout:\n%s\n", clip(out, maxResultOutput))
	}
}

func languageLabel(language string) string {
	if language == LanguageR {
		return "R"
	}
	return "Python"
}

func notebookName(name string, u *understanding.ExperimentUnderstanding) string {
	clean := strings.Trim(nameSanitizer.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_"), "_")
	if clean != "" {
		return clean
	}
	if u != nil && u.ExperimentType != "" {
		return u.ExperimentType + "_qc"
	}
	return "qc_analysis"
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n..."
}
