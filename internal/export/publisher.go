package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"aco/internal/logging"
	"aco/internal/notebook"
	"aco/internal/report"
	"aco/internal/runs"
	"aco/internal/scriptplan"
	"aco/internal/services"
)

const uploadConcurrency = 4

// Object is one uploaded artifact.
type Object struct {
	Key         string `json:"key"`
	Size        int    `json:"size"`
	ContentType string `json:"content_type"`
}

// Result reports a completed publish.
type Result struct {
	RunID       string    `json:"run_id"`
	Bucket      string    `json:"bucket"`
	Objects     []Object  `json:"objects"`
	PublishedAt time.Time `json:"published_at"`
}

type artifact struct {
	name        string
	data        []byte
	contentType string
}

// Publisher collects a run's artifacts and uploads them under
// <prefix>/<run id>/.
type Publisher struct {
	store     *runs.Store
	planner   *scriptplan.Planner
	notebooks *notebook.Generator
	reports   *report.Generator
	uploader  Uploader
	prefix    string
	logger    *slog.Logger
}

// NewPublisher wires the publisher. A nil uploader means export is disabled.
func NewPublisher(store *runs.Store, planner *scriptplan.Planner, notebooks *notebook.Generator, reports *report.Generator, uploader Uploader, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		store:     store,
		planner:   planner,
		notebooks: notebooks,
		reports:   reports,
		uploader:  uploader,
		prefix:    prefix,
		logger:    logging.NewComponentLogger(logger, "export"),
	}
}

// Enabled reports whether an uploader is configured.
func (p *Publisher) Enabled() bool {
	return p != nil && p.uploader != nil
}

// Publish uploads every generated artifact of the run. Missing artifacts are
// skipped; a run with none is a conflict.
func (p *Publisher) Publish(ctx context.Context, id string) (*Result, error) {
	if !p.Enabled() {
		return nil, services.Wrap(services.ErrConfiguration, "export", "publish", "export is not enabled", nil)
	}
	ctx = services.WithRunID(ctx, id)
	if !p.store.Exists(id) {
		return nil, services.Wrap(services.ErrNotFound, "export", "publish", "run not found: "+id, nil)
	}
	items, err := p.collect(id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, services.Wrap(services.ErrConflict, "export", "publish", "nothing to export; generate a plan, notebook, or report first", nil)
	}

	logger := logging.WithContext(ctx, p.logger)
	objects := make([]Object, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i, item := range items {
		key := path.Join(p.prefix, id, item.name)
		objects[i] = Object{Key: key, Size: len(item.data), ContentType: item.contentType}
		g.Go(func() error {
			return p.uploader.Put(gctx, key, item.data, item.contentType)
		})
	}
	if err := g.Wait(); err != nil {
		logging.WarnWithContext(logger, "artifact export failed", "export_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check export bucket, endpoint, and credentials"),
		)
		if errors.Is(err, context.Canceled) {
			return nil, services.Wrap(services.ErrTransient, "export", "publish", "canceled", err)
		}
		return nil, services.Wrap(services.ErrUpstream, "export", "publish", "upload to "+p.uploader.Bucket(), err)
	}
	logger.Info("artifacts exported",
		logging.String(logging.FieldEventType, "export_complete"),
		logging.String("bucket", p.uploader.Bucket()),
		logging.Int("objects", len(objects)),
	)
	return &Result{RunID: id, Bucket: p.uploader.Bucket(), Objects: objects, PublishedAt: time.Now().UTC()}, nil
}

func (p *Publisher) collect(id string) ([]artifact, error) {
	var items []artifact
	if data, name, contentType, err := p.notebooks.Download(id); err == nil {
		items = append(items, artifact{name: path.Join("notebook", name), data: data, contentType: contentType})
	} else if !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}
	for _, format := range []string{report.FormatHTML, report.FormatJSON} {
		data, name, contentType, err := p.reports.Download(id, format)
		if errors.Is(err, services.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		items = append(items, artifact{name: path.Join("report", name), data: data, contentType: contentType})
	}

	plan, err := p.planner.Get(id)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}
	if plan != nil {
		encoded, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode plan: %w", err)
		}
		items = append(items, artifact{name: "scripts/plan.json", data: encoded, contentType: "application/json"})
		for _, s := range plan.Scripts {
			if s.Code == "" {
				continue
			}
			items = append(items, artifact{name: path.Join("scripts", s.Name+s.Extension()), data: []byte(s.Code), contentType: "text/plain; charset=utf-8"})
		}
		if reqs := scriptplan.Requirements(plan); len(reqs) > 0 {
			items = append(items, artifact{name: "scripts/requirements.txt", data: []byte(strings.Join(reqs, "\n") + "\n"), contentType: "text/plain; charset=utf-8"})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })
	return items, nil
}
