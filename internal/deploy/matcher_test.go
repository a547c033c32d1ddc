package deploy

import (
	"errors"
	"testing"
)

func strptr(s string) *string { return &s }

func mustNew(t *testing.T, rules []Rule) *Matcher {
	t.Helper()
	m, err := New(rules)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestMatch_FirstMatchWins(t *testing.T) {
	m := mustNew(t, []Rule{
		{Pattern: `.+\.(js|css|svg|ttf)`, CacheControl: strptr("max-age=31536000, no-transform, public"), Gzip: true},
		{Pattern: `.+\.(png|jpg)`, CacheControl: strptr("max-age=31536000, no-transform, public"), Gzip: false},
		{Pattern: `.*`, Gzip: true},
	})

	tests := []struct {
		path     string
		wantCC   string
		wantGzip bool
	}{
		{"css/style.css", "max-age=31536000, no-transform, public", true},
		{"images/logo.png", "max-age=31536000, no-transform, public", false},
		{"index.html", "", true},
		{"posts/grpc-interceptors/index.html", "", true},
	}

	for _, tt := range tests {
		d := m.Match(tt.path)
		gotCC := ""
		if d.CacheControl != nil {
			gotCC = *d.CacheControl
		}
		if gotCC != tt.wantCC {
			t.Errorf("Match(%q) cache-control: got %q, want %q", tt.path, gotCC, tt.wantCC)
		}
		if d.Gzip != tt.wantGzip {
			t.Errorf("Match(%q) gzip: got %v, want %v", tt.path, d.Gzip, tt.wantGzip)
		}
	}
}

func TestMatch_NoMatchReturnsZeroDirective(t *testing.T) {
	m := mustNew(t, []Rule{
		{Pattern: `.+\.css`, CacheControl: strptr("public"), Gzip: true},
	})

	d := m.Match("feed.xml")
	if d.CacheControl != nil {
		t.Errorf("unmatched path should carry no cache-control, got %q", *d.CacheControl)
	}
	if d.Gzip {
		t.Error("unmatched path should not be gzipped")
	}
}

func TestMatch_PatternsAreAnchored(t *testing.T) {
	m := mustNew(t, []Rule{
		{Pattern: `index\.html`, Gzip: true},
	})

	if d := m.Match("posts/index.html"); d.Gzip {
		t.Error("pattern matched a path suffix; patterns must match the full path")
	}
	if d := m.Match("index.html"); !d.Gzip {
		t.Error("pattern failed to match the exact path")
	}
}

// Reordering rules whose patterns never match the same path must not change
// any outcome; reordering overlapping rules must. This is what makes rule
// order part of the configuration contract.
func TestMatch_OrderSensitivity(t *testing.T) {
	cssOnly := Rule{Pattern: `.+\.css`, CacheControl: strptr("css-policy")}
	jsOnly := Rule{Pattern: `.+\.js`, CacheControl: strptr("js-policy")}
	catchAll := Rule{Pattern: `.*`, CacheControl: strptr("default-policy")}

	paths := []string{"a.css", "b.js", "c.html"}

	// non-overlapping: order irrelevant
	forward := mustNew(t, []Rule{cssOnly, jsOnly})
	reversed := mustNew(t, []Rule{jsOnly, cssOnly})
	for _, p := range paths {
		if a, b := forward.Match(p), reversed.Match(p); !directivesEqual(a, b) {
			t.Errorf("reordering non-overlapping rules changed outcome for %q", p)
		}
	}

	// overlapping: catch-all above a specific rule shadows it
	specificFirst := mustNew(t, []Rule{cssOnly, catchAll})
	catchAllFirst := mustNew(t, []Rule{catchAll, cssOnly})

	if got := *specificFirst.Match("a.css").CacheControl; got != "css-policy" {
		t.Errorf("specific-first: got %q", got)
	}
	if got := *catchAllFirst.Match("a.css").CacheControl; got != "default-policy" {
		t.Errorf("catch-all-first should shadow the css rule, got %q", got)
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New([]Rule{
		{Pattern: `.+\.css`},
		{Pattern: `([unclosed`},
	})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}

	var pe *PatternError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PatternError, got %T", err)
	}
	if pe.Index != 1 {
		t.Errorf("Index: got %d, want 1", pe.Index)
	}
	if pe.Pattern != `([unclosed` {
		t.Errorf("Pattern: got %q", pe.Pattern)
	}
}

func TestNew_EmptyRuleList(t *testing.T) {
	m := mustNew(t, nil)
	if m.Len() != 0 {
		t.Fatalf("Len: got %d", m.Len())
	}
	if d := m.Match("anything"); d.CacheControl != nil || d.Gzip {
		t.Error("empty matcher must return zero directives")
	}
}

func directivesEqual(a, b Directive) bool {
	if a.Gzip != b.Gzip {
		return false
	}
	if (a.CacheControl == nil) != (b.CacheControl == nil) {
		return false
	}
	return a.CacheControl == nil || *a.CacheControl == *b.CacheControl
}
