package previewhttp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/davidsbond/blog/internal/deploy"
	"github.com/davidsbond/blog/internal/log"
	"github.com/davidsbond/blog/internal/pipeline"
	"github.com/davidsbond/blog/internal/render"
)

func strptr(s string) *string { return &s }

func testHandler(t *testing.T) http.Handler {
	t.Helper()

	res := &pipeline.Result{
		Artifacts: []render.Artifact{
			{Path: "index.html", Body: []byte("<html>home</html>")},
			{Path: "posts/hello/index.html", Body: []byte("<html>hello</html>")},
			{Path: "css/main.css", Body: []byte("body{}")},
			{Path: "404.html", Body: []byte("<html>lost</html>")},
		},
		Directives: map[string]deploy.Directive{
			"index.html":             {CacheControl: strptr("public, max-age=60")},
			"posts/hello/index.html": {CacheControl: strptr("public, max-age=3600")},
		},
	}

	return NewHandler(&Options{Logger: log.Nop(), Result: res})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServeRoot(t *testing.T) {
	rec := get(t, testHandler(t), "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "home") {
		t.Error("root did not serve index.html")
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=60" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestServeDirectoryIndex(t *testing.T) {
	h := testHandler(t)

	for _, p := range []string{"/posts/hello/", "/posts/hello"} {
		rec := get(t, h, p)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: status = %d, want 200", p, rec.Code)
		}
		if got := rec.Header().Get("Cache-Control"); got != "public, max-age=3600" {
			t.Errorf("GET %s: Cache-Control = %q", p, got)
		}
	}
}

func TestNoDirectiveNoHeader(t *testing.T) {
	rec := get(t, testHandler(t), "/css/main.css")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if _, present := rec.Result().Header["Cache-Control"]; present {
		t.Error("unmatched path must not carry a Cache-Control header")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/css") {
		t.Errorf("Content-Type = %q, want text/css", ct)
	}
}

func TestNotFoundUsesErrorPage(t *testing.T) {
	rec := get(t, testHandler(t), "/no/such/page")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lost") {
		t.Error("404 response did not use 404.html")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	testHandler(t).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x")))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHealthRoutes(t *testing.T) {
	h := testHandler(t)
	for _, p := range []string{"/-/healthy", "/-/ready"} {
		if rec := get(t, h, p); rec.Code != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", p, rec.Code)
		}
	}
}

func TestPathTraversalBlocked(t *testing.T) {
	rec := get(t, testHandler(t), "/../../etc/passwd")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
