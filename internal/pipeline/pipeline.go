// Package pipeline drives a build from sources to publishable artifacts:
// load the site configuration, load the content store, render, copy static
// assets through and attach deployment directives. A run either completes
// every stage or produces nothing at all.
package pipeline

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidsbond/blog/internal/content"
	"github.com/davidsbond/blog/internal/deploy"
	"github.com/davidsbond/blog/internal/log"
	"github.com/davidsbond/blog/internal/metrics"
	"github.com/davidsbond/blog/internal/publish"
	"github.com/davidsbond/blog/internal/render"
	"github.com/davidsbond/blog/internal/site"
	"github.com/davidsbond/blog/internal/xerrors"
)

type Options struct {
	Logger  log.Logger
	Metrics *metrics.BuildMetrics

	// Renderer defaults to the goldmark renderer when nil.
	Renderer render.Renderer

	ConfigPath string
	ContentDir string

	// StaticDir is copied into the output verbatim. Optional; a missing
	// directory is not an error.
	StaticDir string

	IncludeDrafts bool
}

// Build runs the source-to-artifact stages.
type Build struct {
	opts   Options
	tracer trace.Tracer
}

// Result is a completed build: the loaded configuration, every artifact in
// path order and the directive each one publishes under.
type Result struct {
	Config     *site.Config
	Artifacts  []render.Artifact
	Directives map[string]deploy.Directive
	Posts      int
}

func New(opts Options) (*Build, error) {
	if opts.ConfigPath == "" {
		return nil, xerrors.New("config path is required")
	}
	if opts.ContentDir == "" {
		return nil, xerrors.New("content directory is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Renderer == nil {
		r, err := render.New(render.Options{
			Logger:        opts.Logger,
			IncludeDrafts: opts.IncludeDrafts,
		})
		if err != nil {
			return nil, err
		}
		opts.Renderer = r
	}

	return &Build{
		opts:   opts,
		tracer: otel.Tracer("blog/pipeline"),
	}, nil
}

// Run executes every stage in order. On any error the returned Result is
// nil; partial output never escapes.
func (b *Build) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	cfg, err := b.loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	posts, err := b.loadContent(ctx)
	if err != nil {
		return nil, err
	}

	artifacts, err := b.render(ctx, cfg, posts)
	if err != nil {
		return nil, err
	}

	artifacts, err = b.copyStatic(ctx, artifacts)
	if err != nil {
		return nil, err
	}

	directives, err := b.match(ctx, cfg, artifacts)
	if err != nil {
		return nil, err
	}

	if m := b.opts.Metrics; m != nil {
		m.SetPostsLoaded(len(posts))
		m.SetArtifactsRendered(len(artifacts))
		if !b.opts.IncludeDrafts {
			drafts := 0
			for _, p := range posts {
				if p.Draft {
					drafts++
				}
			}
			m.SetDraftsSkipped(drafts)
		}
	}

	b.opts.Logger.Info(ctx, "build complete",
		"posts", len(posts),
		"artifacts", len(artifacts),
		"duration", time.Since(start).String(),
	)

	return &Result{
		Config:     cfg,
		Artifacts:  artifacts,
		Directives: directives,
		Posts:      len(posts),
	}, nil
}

func (b *Build) loadConfig(ctx context.Context) (cfg *site.Config, err error) {
	err = b.stage(ctx, "load_config", func(ctx context.Context) error {
		cfg, err = site.Load(b.opts.ConfigPath)
		return err
	})
	return cfg, err
}

func (b *Build) loadContent(ctx context.Context) (posts []content.Post, err error) {
	err = b.stage(ctx, "load_content", func(ctx context.Context) error {
		posts, err = content.Load(b.opts.ContentDir)
		return err
	})
	return posts, err
}

func (b *Build) render(ctx context.Context, cfg *site.Config, posts []content.Post) (artifacts []render.Artifact, err error) {
	err = b.stage(ctx, "render", func(ctx context.Context) error {
		artifacts, err = b.opts.Renderer.Render(ctx, cfg, posts)
		return err
	})
	return artifacts, err
}

// copyStatic appends files under StaticDir as artifacts. Rendered output
// takes precedence: a static file shadowed by a generated page is an error
// rather than a silent overwrite.
func (b *Build) copyStatic(ctx context.Context, artifacts []render.Artifact) ([]render.Artifact, error) {
	if b.opts.StaticDir == "" {
		return artifacts, nil
	}

	err := b.stage(ctx, "copy_static", func(ctx context.Context) error {
		seen := make(map[string]struct{}, len(artifacts))
		for _, a := range artifacts {
			seen[a.Path] = struct{}{}
		}

		root := b.opts.StaticDir
		if _, err := os.Stat(root); os.IsNotExist(err) {
			return nil
		}

		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if _, dup := seen[rel]; dup {
				return xerrors.Newf("static file %s collides with a generated page", rel)
			}

			body, err := os.ReadFile(path)
			if err != nil {
				return xerrors.Wrapf(err, "read static file %s", rel)
			}

			artifacts = append(artifacts, render.Artifact{Path: rel, Body: body})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return artifacts, nil
}

func (b *Build) match(ctx context.Context, cfg *site.Config, artifacts []render.Artifact) (directives map[string]deploy.Directive, err error) {
	err = b.stage(ctx, "match", func(ctx context.Context) error {
		matcher, merr := deploy.New(cfg.DeployRules())
		if merr != nil {
			return merr
		}

		directives = make(map[string]deploy.Directive, len(artifacts))
		for _, a := range artifacts {
			directives[a.Path] = matcher.Match(a.Path)
		}
		return nil
	})
	return directives, err
}

// stage runs fn inside a span and records its duration.
func (b *Build) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := b.tracer.Start(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if m := b.opts.Metrics; m != nil {
		m.ObserveStage(name, elapsed)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.Int64("duration_ms", elapsed.Milliseconds()))
	b.opts.Logger.Debug(ctx, "stage complete", "stage", name, "duration", elapsed.String())
	return nil
}

// Items pairs each artifact with its directive in publisher form.
func (r *Result) Items() []publish.Item {
	items := make([]publish.Item, 0, len(r.Artifacts))
	for _, a := range r.Artifacts {
		d := r.Directives[a.Path]
		items = append(items, publish.Item{
			Path:         a.Path,
			Body:         a.Body,
			CacheControl: d.CacheControl,
			Gzip:         d.Gzip,
		})
	}
	return items
}

// WriteTo materializes the artifact tree under dir, creating parent
// directories as needed. Existing files are overwritten so repeated local
// builds converge on the same tree.
func (r *Result) WriteTo(dir string) error {
	for _, a := range r.Artifacts {
		rel := filepath.FromSlash(a.Path)
		if strings.Contains(a.Path, "..") {
			return xerrors.Newf("artifact path %s escapes the output directory", a.Path)
		}

		dst := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return xerrors.Wrapf(err, "create directory for %s", a.Path)
		}
		if err := os.WriteFile(dst, a.Body, 0o644); err != nil {
			return xerrors.Wrapf(err, "write %s", a.Path)
		}
	}
	return nil
}
