package content

import (
	"bytes"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/davidsbond/blog/internal/xerrors"
)

// rawFrontMatter is the on-disk front-matter shape. Dates are parsed from
// strings because posts use both full RFC3339 timestamps and bare dates.
type rawFrontMatter struct {
	Title  string   `yaml:"title" toml:"title"`
	Date   string   `yaml:"date" toml:"date"`
	Tags   []string `yaml:"tags" toml:"tags"`
	Layout string   `yaml:"layout" toml:"layout"`
	Draft  bool     `yaml:"draft" toml:"draft"`
}

var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Load walks root and parses every Markdown document under it. Any
// malformed document aborts the whole load with a *ParseError naming the
// file; there is no partial result. Posts come back sorted newest first,
// ties broken by path, so downstream output is deterministic.
func Load(root string) ([]Post, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, xerrors.Wrapf(err, "content root %s", root)
	}

	var posts []Post
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		post, err := parseFile(path, rel)
		if err != nil {
			return err
		}
		posts = append(posts, *post)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(posts, func(i, j int) bool {
		if !posts[i].Date.Equal(posts[j].Date) {
			return posts[i].Date.After(posts[j].Date)
		}
		return posts[i].Path < posts[j].Path
	})

	return posts, nil
}

func parseFile(path, rel string) (*Post, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: rel, Err: err}
	}

	if err := checkDelimiters(data); err != nil {
		return nil, &ParseError{File: rel, Err: err}
	}

	var raw rawFrontMatter
	body, err := frontmatter.Parse(bytes.NewReader(data), &raw)
	if err != nil {
		return nil, &ParseError{File: rel, Err: err}
	}

	post := Post{
		Title:  raw.Title,
		Tags:   dedupeTags(raw.Tags),
		Layout: raw.Layout,
		Draft:  raw.Draft,
		Slug:   slugFromPath(rel),
		Path:   rel,
		Body:   body,
	}

	if raw.Date != "" {
		date, err := parseDate(raw.Date)
		if err != nil {
			return nil, &ParseError{File: rel, Err: err}
		}
		post.Date = date
	}

	if post.Title == "" {
		post.Title = titleFromSlug(post.Slug)
	}

	return &post, nil
}

// checkDelimiters rejects documents that open a front-matter block without
// closing it. The front-matter library is lenient here; an unterminated
// block must abort the build rather than be swallowed into the body.
func checkDelimiters(data []byte) error {
	for _, delim := range []string{"---", "+++"} {
		open := []byte(delim + "\n")
		if !bytes.HasPrefix(data, open) && !bytes.HasPrefix(data, []byte(delim+"\r\n")) {
			continue
		}
		rest := data[len(delim):]
		if !bytes.Contains(rest, []byte("\n"+delim)) {
			return xerrors.Newf("front-matter opened with %q but never closed", delim)
		}
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	for _, f := range dateFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, xerrors.Newf("unrecognized date %q (use YYYY-MM-DD or RFC3339)", s)
}

// dedupeTags silently drops duplicate tags while preserving first-seen
// order; duplicates are not an error.
func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// slugFromPath derives the URL segment from the whole root-relative path,
// not just the base name, so posts in different directories can share a
// filename without rendering to the same artifact path.
func slugFromPath(rel string) string {
	rel = filepath.ToSlash(rel)
	return strings.TrimSuffix(rel, path.Ext(rel))
}

// titleFromSlug turns "reverse-engineering-usb" into "Reverse Engineering
// Usb" when a post carries no title of its own.
func titleFromSlug(slug string) string {
	words := strings.NewReplacer("-", " ", "_", " ").Replace(path.Base(slug))
	return cases.Title(language.English).String(words)
}

// AllTags returns the union of tags across posts with usage counts.
func AllTags(posts []Post) map[string]int {
	out := make(map[string]int)
	for i := range posts {
		for _, t := range posts[i].Tags {
			out[t]++
		}
	}
	return out
}
