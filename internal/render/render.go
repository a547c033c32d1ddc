// Package render turns the loaded site configuration and post collection
// into the static artifact tree: one page per post, the home page, tag
// listings and an RSS feed. Rendering is a pure function of its inputs so a
// build always produces byte-identical output for identical sources.
package render

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"path"
	"sort"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/davidsbond/blog/internal/content"
	"github.com/davidsbond/blog/internal/log"
	"github.com/davidsbond/blog/internal/site"
	"github.com/davidsbond/blog/internal/xerrors"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Artifact is one generated output file.
type Artifact struct {
	Path string
	Body []byte
}

// Renderer is the collaborator boundary the pipeline builds against:
// configuration and posts in, artifacts out.
type Renderer interface {
	Render(ctx context.Context, cfg *site.Config, posts []content.Post) ([]Artifact, error)
}

type Options struct {
	Logger log.Logger

	// IncludeDrafts renders posts marked draft. Off for production builds.
	IncludeDrafts bool
}

// Goldmark renders Markdown through goldmark with the GFM extension and
// executes the embedded theme layouts.
type Goldmark struct {
	opts Options
	md   goldmark.Markdown
	tmpl *template.Template
}

func New(opts Options) (*Goldmark, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, xerrors.Wrap(err, "parse layout templates")
	}

	return &Goldmark{
		opts: opts,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
		tmpl: tmpl,
	}, nil
}

type pageData struct {
	Site  *site.Config
	Menu  []site.MenuEntry
	Post  *content.Post
	HTML  template.HTML
	Posts []content.Post
	Tag   string
	Tags  []tagInfo
}

type tagInfo struct {
	Name  string
	Count int
}

// Render produces the full artifact set in a deterministic order: posts
// first (as loaded), then the home page, tag pages and the feed.
func (g *Goldmark) Render(ctx context.Context, cfg *site.Config, posts []content.Post) ([]Artifact, error) {
	menu := cfg.MenuInOrder()

	published := make([]content.Post, 0, len(posts))
	for _, p := range posts {
		if p.Draft && !g.opts.IncludeDrafts {
			g.opts.Logger.Debug(ctx, "skipping draft", "path", p.Path)
			continue
		}
		published = append(published, p)
	}

	artifacts := make([]Artifact, 0, len(published)+4)

	for i := range published {
		p := &published[i]
		html, err := g.markdown(p.Body)
		if err != nil {
			return nil, xerrors.Wrapf(err, "render markdown for %s", p.Path)
		}

		layout := p.Layout
		if layout == "" || g.tmpl.Lookup(layout+".html.tmpl") == nil {
			layout = "post"
		}

		body, err := g.execute(layout+".html.tmpl", pageData{
			Site: cfg,
			Menu: menu,
			Post: p,
			HTML: html,
		})
		if err != nil {
			return nil, xerrors.Wrapf(err, "render page for %s", p.Path)
		}

		artifacts = append(artifacts, Artifact{
			Path: path.Join("posts", p.Slug, "index.html"),
			Body: body,
		})
	}

	home, err := g.execute("index.html.tmpl", pageData{
		Site:  cfg,
		Menu:  menu,
		Posts: homePosts(cfg, published),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "render home page")
	}
	artifacts = append(artifacts, Artifact{Path: "index.html", Body: home})

	tagArtifacts, err := g.renderTags(cfg, menu, published)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, tagArtifacts...)

	feed, err := renderFeed(cfg, published)
	if err != nil {
		return nil, xerrors.Wrap(err, "render feed")
	}
	artifacts = append(artifacts, Artifact{Path: "feed.xml", Body: feed})

	g.opts.Logger.Info(ctx, "rendered site",
		"posts", len(published),
		"drafts_skipped", len(posts)-len(published),
		"artifacts", len(artifacts),
	)

	return artifacts, nil
}

func (g *Goldmark) markdown(src []byte) (template.HTML, error) {
	var buf bytes.Buffer
	if err := g.md.Convert(src, &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func (g *Goldmark) execute(name string, data pageData) ([]byte, error) {
	var buf bytes.Buffer
	if err := g.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Goldmark) renderTags(cfg *site.Config, menu []site.MenuEntry, posts []content.Post) ([]Artifact, error) {
	counts := content.AllTags(posts)
	tags := make([]tagInfo, 0, len(counts))
	for name, count := range counts {
		tags = append(tags, tagInfo{Name: name, Count: count})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })

	out := make([]Artifact, 0, len(tags)+1)

	listing, err := g.execute("tags.html.tmpl", pageData{Site: cfg, Menu: menu, Tags: tags})
	if err != nil {
		return nil, xerrors.Wrap(err, "render tag listing")
	}
	out = append(out, Artifact{Path: path.Join("tags", "index.html"), Body: listing})

	for _, tag := range tags {
		var tagged []content.Post
		for _, p := range posts {
			if p.HasTag(tag.Name) {
				tagged = append(tagged, p)
			}
		}

		body, err := g.execute("tag.html.tmpl", pageData{
			Site:  cfg,
			Menu:  menu,
			Tag:   tag.Name,
			Posts: tagged,
		})
		if err != nil {
			return nil, xerrors.Wrapf(err, "render tag page %s", tag.Name)
		}
		out = append(out, Artifact{Path: path.Join("tags", tag.Name, "index.html"), Body: body})
	}

	return out, nil
}

// homePosts limits the home page to params.postsOnHomePage when set.
func homePosts(cfg *site.Config, posts []content.Post) []content.Post {
	limit := len(posts)
	if v, ok := cfg.Params["postsOnHomePage"]; ok {
		switch n := v.(type) {
		case int64:
			limit = int(n)
		case int:
			limit = n
		}
	}
	if limit > len(posts) || limit < 0 {
		limit = len(posts)
	}
	return posts[:limit]
}

// PermalinkFor returns the absolute URL for a post.
func PermalinkFor(cfg *site.Config, p *content.Post) string {
	return fmt.Sprintf("%s/posts/%s/", cfg.BaseURL, p.Slug)
}
