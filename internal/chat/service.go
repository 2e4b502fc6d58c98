package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"aco/internal/fileutil"
	"aco/internal/logging"
	"aco/internal/manifest"
	"aco/internal/notebook"
	"aco/internal/report"
	"aco/internal/runs"
	"aco/internal/scriptplan"
	"aco/internal/services"
	"aco/internal/services/llm"
	"aco/internal/strategy"
	"aco/internal/understanding"
)

const historyWindow = 10

var (
	replySchema = llm.MustSchemaFor[reply](nil)
	editSchema  = llm.MustSchemaFor[editReply](nil)
)

// Options controls Send.
type Options struct {
	APIKey string
}

// Service answers chat messages and applies requested artifact revisions.
type Service struct {
	store         *runs.Store
	manifests     *manifest.Service
	understanding *understanding.Engine
	strategy      *strategy.Engine
	planner       *scriptplan.Planner
	notebooks     *notebook.Generator
	reports       *report.Generator
	llm           llm.Source
	logger        *slog.Logger
	now           func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires the chat service.
func NewService(store *runs.Store, manifests *manifest.Service, u *understanding.Engine, s *strategy.Engine, planner *scriptplan.Planner, notebooks *notebook.Generator, reports *report.Generator, source llm.Source, logger *slog.Logger) *Service {
	return &Service{
		store:         store,
		manifests:     manifests,
		understanding: u,
		strategy:      s,
		planner:       planner,
		notebooks:     notebooks,
		reports:       reports,
		llm:           source,
		logger:        logging.NewComponentLogger(logger, "chat"),
		now:           func() time.Time { return time.Now().UTC() },
		locks:         make(map[string]*sync.Mutex),
	}
}

// Send records the user's message, asks the model for a reply, and applies a
// returned artifact replacement for editable steps. Model failures become a
// fixed apology reply; the artifact is then left untouched.
func (s *Service) Send(ctx context.Context, id, step, text string, opts Options) (*Response, error) {
	if !slices.Contains(Steps, step) {
		return &Response{Response: unknownStepReply}, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, "chat", "send", "message is empty", nil)
	}
	if !s.store.Exists(id) {
		return nil, services.Wrap(services.ErrNotFound, "chat", "send", "run not found: "+id, nil)
	}
	client, err := s.llm.Client(opts.APIKey)
	if err != nil {
		return nil, err
	}
	ctx = services.WithStep(services.WithRunID(ctx, id), "chat_"+step)
	logger := logging.WithContext(ctx, s.logger)

	lock := s.lock(id, step)
	lock.Lock()
	defer lock.Unlock()

	history, err := s.load(id, step)
	if err != nil {
		return nil, err
	}
	history = append(history, Message{Role: RoleUser, Content: text, Timestamp: s.now()})

	resp := &Response{}
	artifact := s.artifactContext(id, step)
	req := llm.Request{
		System:      systems[step],
		Prompt:      artifact + "\n\n## Conversation\n" + conversation(history),
		Temperature: 0.7,
		MaxTokens:   8192,
	}
	if editable(step) {
		var out editReply
		err = client.CompleteStructured(ctx, req, editSchema, &out)
		resp.Response = strings.TrimSpace(out.Reply)
		if err == nil && len(out.UpdatedArtifact) > 0 {
			updated, changes, applyErr := s.apply(id, step, out.UpdatedArtifact)
			if applyErr != nil {
				logging.WarnWithContext(logger, "chat artifact update rejected", "chat_update_rejected",
					logging.Error(applyErr),
					logging.String(logging.FieldImpact, "artifact unchanged"),
				)
				resp.Response += saveFailedNote
			} else {
				resp.ArtifactUpdated = true
				resp.UpdatedArtifact = updated
				resp.Changes = changes
			}
		}
	} else {
		var out reply
		err = client.CompleteStructured(ctx, req, replySchema, &out)
		resp.Response = strings.TrimSpace(out.Reply)
	}
	if err != nil {
		logging.WarnWithContext(logger, "chat reply failed", "chat_reply_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check llm credentials and connectivity"),
		)
		resp = &Response{Response: failureReply}
	}

	history = append(history, Message{Role: RoleAssistant, Content: resp.Response, Timestamp: s.now()})
	if err := s.save(id, step, history); err != nil {
		return nil, err
	}
	logger.Info("chat reply",
		logging.String(logging.FieldEventType, "chat_reply"),
		logging.Bool("artifact_updated", resp.ArtifactUpdated),
		logging.Int("history", len(history)),
	)
	return resp, nil
}

// History returns the stored messages of a step, oldest first.
func (s *Service) History(id, step string) ([]Message, error) {
	if !s.store.Exists(id) {
		return nil, services.Wrap(services.ErrNotFound, "chat", "history", "run not found: "+id, nil)
	}
	return s.load(id, step)
}

// Clear deletes a step's history.
func (s *Service) Clear(id, step string) error {
	path, err := s.store.ChatPath(id, step)
	if err != nil {
		return err
	}
	lock := s.lock(id, step)
	lock.Lock()
	defer lock.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrTransient, "chat", "clear", "remove history", err)
	}
	return nil
}

func (s *Service) lock(id, step string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := id + "/" + step
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Service) load(id, step string) ([]Message, error) {
	path, err := s.store.ChatPath(id, step)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "chat", "load history", "read", err)
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		s.logger.Warn("chat history unreadable; starting fresh",
			logging.String(logging.FieldEventType, "chat_history_corrupt"),
			logging.String(logging.FieldRunID, id),
			logging.String(logging.FieldStep, step),
			logging.Error(err),
		)
		return []Message{}, nil
	}
	return msgs, nil
}

func (s *Service) save(id, step string, msgs []Message) error {
	path, err := s.store.ChatPath(id, step)
	if err != nil {
		return err
	}
	if err := fileutil.WriteJSONAtomic(path, msgs); err != nil {
		return services.Wrap(services.ErrTransient, "chat", "save history", "write", err)
	}
	return nil
}

// apply decodes a replacement artifact and stores it through the owning
// engine. Stored replacements always lose their approval.
func (s *Service) apply(id, step string, raw map[string]any) (any, *scriptplan.ChangeSummary, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("encode artifact: %w", err)
	}
	switch step {
	case StepUnderstanding:
		var u understanding.ExperimentUnderstanding
		if err := json.Unmarshal(encoded, &u); err != nil {
			return nil, nil, services.Wrap(services.ErrValidation, "chat", "apply understanding", "decode", err)
		}
		if err := s.understanding.Replace(id, &u); err != nil {
			return nil, nil, err
		}
		return &u, nil, nil
	case StepStrategy:
		var st strategy.AnalysisStrategy
		if err := json.Unmarshal(encoded, &st); err != nil {
			return nil, nil, services.Wrap(services.ErrValidation, "chat", "apply strategy", "decode", err)
		}
		updated, err := s.strategy.Update(id, &st)
		if err != nil {
			return nil, nil, err
		}
		return updated, nil, nil
	case StepScripts:
		var draft struct {
			Scripts []scriptplan.PlannedScript `json:"scripts"`
		}
		if err := json.Unmarshal(encoded, &draft); err != nil {
			return nil, nil, services.Wrap(services.ErrValidation, "chat", "apply plan", "decode", err)
		}
		if len(draft.Scripts) == 0 {
			return nil, nil, services.Wrap(services.ErrValidation, "chat", "apply plan", "replacement plan has no scripts", nil)
		}
		// Code and results only come from generation and execution; Merge
		// carries them over for unchanged scripts.
		for i := range draft.Scripts {
			draft.Scripts[i].Code = ""
			draft.Scripts[i].Result = nil
		}
		plan, err := scriptplan.New(id, draft.Scripts)
		if err != nil {
			return nil, nil, err
		}
		res, err := s.planner.Replace(id, plan)
		if err != nil {
			return nil, nil, err
		}
		return res.Plan, &res.Changes, nil
	}
	return nil, nil, services.Wrap(services.ErrValidation, "chat", "apply", "step "+step+" is read-only", nil)
}

func conversation(history []Message) string {
	recent := history[max(0, len(history)-historyWindow):]
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		prefix := "User"
		if m.Role == RoleAssistant {
			prefix = "Assistant"
		}
		lines = append(lines, prefix+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
