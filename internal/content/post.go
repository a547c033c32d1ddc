// Package content loads the Markdown documents that make up the site. Each
// document is front-matter metadata followed by a Markdown body; the whole
// collection is read once per build and never mutated afterwards.
package content

import (
	"fmt"
	"time"
)

// Post is one Markdown document. Immutable once loaded; the body is owned
// exclusively by the post.
type Post struct {
	Title  string
	Date   time.Time
	Tags   []string
	Layout string
	Draft  bool

	// Slug is the URL segment derived from the source filename.
	Slug string

	// Path is the source file path relative to the content root.
	Path string

	// Body is the raw Markdown text with front-matter stripped.
	Body []byte
}

// HasTag reports membership in the post's tag set.
func (p *Post) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ParseError reports a document whose front-matter could not be parsed.
// The offending file is always named.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse content %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
