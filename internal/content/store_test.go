package content

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePost(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

const validPost = `---
title: Fun with gRPC interceptors
date: 2019-04-22T20:32:00Z
tags:
  - go
  - grpc
layout: post
---

Some thoughts on interceptors.
`

func TestLoad_ParsesFrontMatterAndBody(t *testing.T) {
	root := t.TempDir()
	writePost(t, root, "posts/grpc-interceptors.md", validPost)

	posts, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("posts: got %d, want 1", len(posts))
	}

	p := posts[0]
	if p.Title != "Fun with gRPC interceptors" {
		t.Errorf("Title: got %q", p.Title)
	}
	if p.Date.Year() != 2019 || p.Date.Month() != 4 {
		t.Errorf("Date: got %v", p.Date)
	}
	if !p.HasTag("grpc") || !p.HasTag("go") {
		t.Errorf("Tags: got %v", p.Tags)
	}
	if p.Layout != "post" {
		t.Errorf("Layout: got %q", p.Layout)
	}
	if p.Slug != "posts/grpc-interceptors" {
		t.Errorf("Slug: got %q", p.Slug)
	}
	if p.Path != filepath.Join("posts", "grpc-interceptors.md") {
		t.Errorf("Path: got %q", p.Path)
	}
	if !strings.Contains(string(p.Body), "interceptors") {
		t.Errorf("Body: got %q", p.Body)
	}
	if strings.Contains(string(p.Body), "---") {
		t.Error("Body still contains front-matter delimiters")
	}
}

// One malformed document aborts the entire load with the file named and no
// partial result.
func TestLoad_MalformedFrontMatterAbortsBuild(t *testing.T) {
	root := t.TempDir()
	writePost(t, root, "posts/good.md", validPost)
	writePost(t, root, "posts/broken.md", "---\ntitle: no closing delimiter\n\nbody text\n")

	posts, err := Load(root)
	if err == nil {
		t.Fatal("expected error for malformed front-matter")
	}
	if posts != nil {
		t.Fatalf("expected zero posts on failure, got %d", len(posts))
	}

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T (%v)", err, err)
	}
	if !strings.Contains(pe.File, "broken.md") {
		t.Errorf("ParseError should name the offending file, got %q", pe.File)
	}
}

func TestLoad_DuplicateTagsDeduplicated(t *testing.T) {
	root := t.TempDir()
	writePost(t, root, "posts/dup.md", `---
title: Kafka consumer groups
date: 2019-01-10
tags: [kafka, go, kafka, go, kafka]
---

body
`)

	posts, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"kafka", "go"}
	got := posts[0].Tags
	if len(got) != len(want) {
		t.Fatalf("Tags: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tags order: got %v, want %v", got, want)
		}
	}
}

func TestLoad_TitleDerivedFromFilename(t *testing.T) {
	root := t.TempDir()
	writePost(t, root, "posts/reverse-engineering-usb.md", `---
date: 2018-11-03
---

body
`)

	posts, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := posts[0].Title; got != "Reverse Engineering Usb" {
		t.Errorf("Title: got %q", got)
	}
}

func TestLoad_SharedFilenamesKeepDistinctSlugs(t *testing.T) {
	root := t.TempDir()
	writePost(t, root, "2018/retrospective.md", "---\ntitle: \"2018\"\ndate: 2018-12-31\n---\n\nx\n")
	writePost(t, root, "2019/retrospective.md", "---\ntitle: \"2019\"\ndate: 2019-12-31\n---\n\nx\n")

	posts, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("posts: got %d, want 2", len(posts))
	}

	slugs := map[string]bool{}
	for _, p := range posts {
		slugs[p.Slug] = true
	}
	if !slugs["2018/retrospective"] || !slugs["2019/retrospective"] {
		t.Fatalf("slugs: got %v", slugs)
	}
}

func TestLoad_SortsNewestFirst(t *testing.T) {
	root := t.TempDir()
	writePost(t, root, "posts/older.md", "---\ntitle: Older\ndate: 2018-01-01\n---\n\nx\n")
	writePost(t, root, "posts/newer.md", "---\ntitle: Newer\ndate: 2020-01-01\n---\n\nx\n")
	writePost(t, root, "posts/middle.md", "---\ntitle: Middle\ndate: 2019-01-01\n---\n\nx\n")

	posts, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var got []string
	for _, p := range posts {
		got = append(got, p.Title)
	}
	want := []string{"Newer", "Middle", "Older"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: got %v, want %v", got, want)
		}
	}
}

func TestLoad_BadDateNamesFile(t *testing.T) {
	root := t.TempDir()
	writePost(t, root, "posts/bad-date.md", "---\ntitle: X\ndate: next tuesday\n---\n\nx\n")

	_, err := Load(root)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T (%v)", err, err)
	}
	if !strings.Contains(pe.File, "bad-date.md") {
		t.Errorf("File: got %q", pe.File)
	}
}

func TestLoad_IgnoresNonMarkdown(t *testing.T) {
	root := t.TempDir()
	writePost(t, root, "posts/real.md", validPost)
	writePost(t, root, "posts/notes.txt", "not markdown")
	writePost(t, root, "static/style.css", "body {}")

	posts, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("posts: got %d, want 1", len(posts))
	}
}

func TestLoad_MissingRoot(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing content root")
	}
}

func TestAllTags(t *testing.T) {
	posts := []Post{
		{Tags: []string{"go", "kafka"}},
		{Tags: []string{"go", "kubernetes"}},
	}
	got := AllTags(posts)
	if got["go"] != 2 || got["kafka"] != 1 || got["kubernetes"] != 1 {
		t.Fatalf("AllTags: got %v", got)
	}
}
