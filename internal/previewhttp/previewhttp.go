// Package previewhttp serves a built site from memory so changes can be
// inspected before publishing. Responses carry the same Cache-Control
// headers the deployment matcher would attach in production, which makes
// the preview an honest dress rehearsal for the CDN.
package previewhttp

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/davidsbond/blog/internal/log"
	"github.com/davidsbond/blog/internal/metrics"
	"github.com/davidsbond/blog/internal/pipeline"
	"github.com/davidsbond/blog/internal/xerrors"
)

type Options struct {
	Logger  log.Logger
	Port    int
	Metrics *metrics.BuildMetrics
	Result  *pipeline.Result
}

// NewHandler assembles the preview routes. The *http.Server is owned by
// Start so it can shut down gracefully.
func NewHandler(opts *Options) http.Handler {
	site := &siteHandler{
		logger: opts.Logger,
		files:  make(map[string][]byte, len(opts.Result.Artifacts)),
		result: opts.Result,
	}
	for _, a := range opts.Result.Artifacts {
		site.files[a.Path] = a.Body
	}

	r := chi.NewRouter()
	r.Use(chimw.Compress(5, "text/html", "text/css", "application/javascript", "application/json", "image/svg+xml"))
	r.Use(accessLog(opts.Logger))

	r.Get("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	r.Get("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.NotFound(site.ServeHTTP)
	r.MethodNotAllowed(site.ServeHTTP)

	var h http.Handler = r
	if opts.Metrics != nil {
		h = opts.Metrics.Middleware(h)
	}

	h = otelhttp.NewHandler(h, "preview.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready" && r.URL.Path != "/metrics"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)

	return h
}

// siteHandler resolves request paths against the in-memory artifact tree,
// following the same index-file convention the object store deployment
// relies on.
type siteHandler struct {
	logger log.Logger
	files  map[string][]byte
	result *pipeline.Result
}

func (s *siteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	key, body, ok := s.resolve(r.URL.Path)
	if !ok {
		s.notFound(w)
		return
	}

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if d, found := s.result.Directives[key]; found && d.CacheControl != nil {
		w.Header().Set("Cache-Control", *d.CacheControl)
	}

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		return
	}
	_, _ = w.Write(body)
}

func (s *siteHandler) resolve(reqPath string) (string, []byte, bool) {
	p := strings.TrimPrefix(path.Clean("/"+reqPath), "/")
	if p == "" || p == "." {
		p = "index.html"
	}

	if body, ok := s.files[p]; ok {
		return p, body, true
	}
	if body, ok := s.files[p+"/index.html"]; ok {
		return p + "/index.html", body, true
	}
	return "", nil, false
}

func (s *siteHandler) notFound(w http.ResponseWriter) {
	if body, ok := s.files["404.html"]; ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write(body)
		return
	}
	http.Error(w, "404 page not found", http.StatusNotFound)
}

func accessLog(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Info(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
			)
		})
	}
}

// Start serves the preview and returns a stop function for graceful
// shutdown.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	if opts.Result == nil {
		return nil, xerrors.New("no build result to serve")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	port := opts.Port
	if port == 0 {
		port = 1313
	}
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrap(err, "listen")
	}

	go func() {
		opts.Logger.Info(ctx, "preview server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			opts.Logger.Error(ctx, err, "preview server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "preview server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
