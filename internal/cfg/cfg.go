// Package cfg defines the flag surface for each subcommand. Flags bind with
// defaults inline, environment variables fill anything not passed on the
// command line, and validation reports every problem at once.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/davidsbond/blog/internal/log"
)

// Common holds the fields every subcommand shares.
type Common struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	EnableTracing bool
	OTLPEndpoint  string
	TraceSample   float64

	EnablePyroscope bool
	PyroServer      string
}

// Build configures the build subcommand.
type Build struct {
	Common

	ConfigPath     string
	ContentDir     string
	StaticDir      string
	OutputDir      string
	IncludeDrafts  bool
	PushgatewayURL string
}

// Publish configures the publish subcommand.
type Publish struct {
	Build

	Target           string
	UploadsPerSecond float64
	ReleaseParameter string
	SigningKeyARN    string
}

// Serve configures the preview server.
type Serve struct {
	Build

	Port int
}

func registerCommon(fs *flag.FlagSet, c *Common) {
	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 1.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing profiles to the server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
}

// RegisterBuild binds the build subcommand's flags with defaults inline.
func RegisterBuild(fs *flag.FlagSet, c *Build) {
	registerCommon(fs, &c.Common)
	fs.StringVar(&c.ConfigPath, "config", "config.toml", "site configuration file")
	fs.StringVar(&c.ContentDir, "content-dir", "content", "directory of markdown posts")
	fs.StringVar(&c.StaticDir, "static-dir", "static", "directory of static assets copied through verbatim")
	fs.StringVar(&c.OutputDir, "output-dir", "public", "directory the built site is written to")
	fs.BoolVar(&c.IncludeDrafts, "drafts", false, "include posts marked draft")
	fs.StringVar(&c.PushgatewayURL, "pushgateway-url", "", "prometheus pushgateway to push build metrics to")
}

func RegisterPublish(fs *flag.FlagSet, c *Publish) {
	RegisterBuild(fs, &c.Build)
	fs.StringVar(&c.Target, "target", "", "deployment target name (defaults to the first configured target)")
	fs.Float64Var(&c.UploadsPerSecond, "uploads-per-second", 0, "upload rate limit (0 = unlimited)")
	fs.StringVar(&c.ReleaseParameter, "release-parameter", "", "ssm parameter to record the release pointer in")
	fs.StringVar(&c.SigningKeyARN, "signing-key-arn", "", "KMS key ARN for manifest signing")
}

func RegisterServe(fs *flag.FlagSet, c *Serve) {
	RegisterBuild(fs, &c.Build)
	fs.IntVar(&c.Port, "port", 1313, "preview listen TCP port (1..65535)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

func validateCommon(c Common) []error {
	var errs []error

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
	}

	return errs
}

func validateBuild(c Build) []error {
	errs := validateCommon(c.Common)

	if c.ConfigPath == "" {
		errs = append(errs, fmt.Errorf("CONFIG is required"))
	}
	if c.ContentDir == "" {
		errs = append(errs, fmt.Errorf("CONTENT_DIR is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, fmt.Errorf("OUTPUT_DIR is required"))
	}

	if c.PushgatewayURL != "" {
		if u, err := url.Parse(c.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUSHGATEWAY_URL must be a URL (got %q)", c.PushgatewayURL))
		}
	}

	return errs
}

// ValidateBuild checks the build subcommand's values, returning an error
// describing all invalid fields or nil.
func ValidateBuild(c Build) error {
	return errors.Join(validateBuild(c)...)
}

func ValidatePublish(c Publish) error {
	errs := validateBuild(c.Build)

	if c.UploadsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("UPLOADS_PER_SECOND must not be negative (got %v)", c.UploadsPerSecond))
	}
	if c.SigningKeyARN != "" && c.ReleaseParameter == "" {
		errs = append(errs, fmt.Errorf("RELEASE_PARAMETER is required when SIGNING_KEY_ARN is set"))
	}

	return errors.Join(errs...)
}

func ValidateServe(c Serve) error {
	errs := validateBuild(c.Build)

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d (must be 1..65535)", c.Port))
	}

	return errors.Join(errs...)
}
