package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/davidsbond/blog/internal/cfg"
	"github.com/davidsbond/blog/internal/cryptoutil"
	"github.com/davidsbond/blog/internal/log"
	"github.com/davidsbond/blog/internal/metrics"
	"github.com/davidsbond/blog/internal/otelx"
	"github.com/davidsbond/blog/internal/pipeline"
	"github.com/davidsbond/blog/internal/previewhttp"
	"github.com/davidsbond/blog/internal/prof"
	"github.com/davidsbond/blog/internal/publish"
	v "github.com/davidsbond/blog/internal/version"
)

const envPrefix = "BLOG_"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "build":
		run(ctx, runBuild)
	case "publish":
		run(ctx, runPublish)
	case "serve":
		run(ctx, runServe)
	case "version", "-V", "--version":
		vi := v.Get()
		fmt.Printf("%s %s (commit=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s <command> [flags]

commands:
  build    render the site into the output directory
  publish  build and upload changed artifacts to the deployment target
  serve    build and serve a local preview
  version  print version information

each command accepts -h for its flag list; flags also read from
%sFOO_BAR environment variables
`, v.AppName, envPrefix)
}

func run(ctx context.Context, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup parses flags for a subcommand, fills from the environment,
// validates via validate and builds a logger.
func setup(name string, args []string, register func(*flag.FlagSet), validate func() error, common *cfg.Common) (log.Logger, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	register(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.FillFromEnv(fs, envPrefix, func(format string, a ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", a...)
	})

	if err := validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	lvl, err := log.ParseLevel(common.LogLevel)
	if err != nil {
		return nil, err
	}
	stackLvl, err := log.ParseLevel(common.StacktraceLevel)
	if err != nil {
		return nil, err
	}

	return log.New(log.Options{
		App:             v.AppName,
		Version:         v.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSONFormat:      common.LogJSON,
	})
}

// initTelemetry starts profiling and tracing. Both return functions are
// non-nil and safe to call unconditionally.
func initTelemetry(ctx context.Context, logger log.Logger, c cfg.Common, component string) (func(), func(context.Context) error) {
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       c.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: c.PyroServer,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": component,
			"version":   v.Version,
		},
	})
	if err != nil {
		logger.Error(ctx, err, "profiling start failed", "pyro_server", c.PyroServer)
		stopProf = func() {}
	}

	shutdownOtel, err := otelx.Init(ctx, otelx.Options{
		Enabled:  c.EnableTracing,
		Endpoint: c.OTLPEndpoint,
		Insecure: true,
		Sample:   c.TraceSample,
		Service:  v.AppName,
		Version:  v.Version,
	})
	if err != nil {
		logger.Error(ctx, err, "tracing init failed")
		shutdownOtel = func(context.Context) error { return nil }
	}

	return stopProf, shutdownOtel
}

func newBuild(logger log.Logger, m *metrics.BuildMetrics, c cfg.Build) (*pipeline.Build, error) {
	return pipeline.New(pipeline.Options{
		Logger:        logger,
		Metrics:       m,
		ConfigPath:    c.ConfigPath,
		ContentDir:    c.ContentDir,
		StaticDir:     c.StaticDir,
		IncludeDrafts: c.IncludeDrafts,
	})
}

// pushMetrics sends build metrics to the configured gateway, if any.
// Failures are logged, never fatal; a flaky gateway must not fail a deploy.
func pushMetrics(ctx context.Context, logger log.Logger, m *metrics.BuildMetrics, gatewayURL, job string) {
	if gatewayURL == "" {
		return
	}
	if err := m.Push(ctx, gatewayURL, job); err != nil {
		logger.Warn(ctx, "metrics push failed", "error", err.Error(), "gateway", gatewayURL)
	}
}

func runBuild(ctx context.Context) error {
	var conf cfg.Build
	logger, err := setup("build", os.Args[2:],
		func(fs *flag.FlagSet) { cfg.RegisterBuild(fs, &conf) },
		func() error { return cfg.ValidateBuild(conf) },
		&conf.Common,
	)
	if err != nil {
		return err
	}
	defer logger.Sync()
	ctx = log.WithContext(ctx, logger)

	stopProf, shutdownOtel := initTelemetry(ctx, logger, conf.Common, "build")
	defer stopProf()
	defer shutdownOtel(context.Background())

	m := metrics.New()
	m.SetBuildInfo(v.Get())

	b, err := newBuild(logger, m, conf)
	if err != nil {
		return err
	}

	res, err := b.Run(ctx)
	if err != nil {
		return err
	}
	if err := res.WriteTo(conf.OutputDir); err != nil {
		return err
	}

	m.SetLastSuccess(time.Now())
	pushMetrics(ctx, logger, m, conf.PushgatewayURL, "blog_build")

	logger.Info(ctx, "site written", "output_dir", conf.OutputDir, "artifacts", len(res.Artifacts))
	return nil
}

func runPublish(ctx context.Context) error {
	var conf cfg.Publish
	logger, err := setup("publish", os.Args[2:],
		func(fs *flag.FlagSet) { cfg.RegisterPublish(fs, &conf) },
		func() error { return cfg.ValidatePublish(conf) },
		&conf.Common,
	)
	if err != nil {
		return err
	}
	defer logger.Sync()
	ctx = log.WithContext(ctx, logger)

	stopProf, shutdownOtel := initTelemetry(ctx, logger, conf.Common, "publish")
	defer stopProf()
	defer shutdownOtel(context.Background())

	m := metrics.New()
	m.SetBuildInfo(v.Get())

	b, err := newBuild(logger, m, conf.Build)
	if err != nil {
		return err
	}

	res, err := b.Run(ctx)
	if err != nil {
		return err
	}

	siteTarget, ok := res.Config.Target(conf.Target)
	if !ok {
		return fmt.Errorf("no deployment target %q in %s", conf.Target, conf.ConfigPath)
	}
	target, err := publish.ParseTarget(siteTarget.URL)
	if err != nil {
		return err
	}

	var awsOpts []func(*awsconfig.LoadOptions) error
	if target.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(target.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg)

	pub, err := publish.New(publish.Options{
		Logger:           logger,
		Bucket:           target.Bucket,
		Prefix:           target.Prefix,
		Client:           s3Client,
		UploadsPerSecond: conf.UploadsPerSecond,
	})
	if err != nil {
		return err
	}

	items := res.Items()
	summary, err := pub.Publish(ctx, items)
	if err != nil {
		return err
	}
	m.AddPublished(summary.Uploaded, summary.Skipped, summary.BytesUploaded)

	if conf.ReleaseParameter != "" {
		var signer publish.ManifestSigner
		if conf.SigningKeyARN != "" {
			signer = cryptoutil.NewKMSSigner(kms.NewFromConfig(awsCfg), conf.SigningKeyARN)
		}

		rec, err := publish.NewRecorder(publish.RecorderOptions{
			Logger:    logger,
			Bucket:    target.Bucket,
			Prefix:    target.Prefix,
			S3Client:  s3Client,
			SSMClient: ssm.NewFromConfig(awsCfg),
			Parameter: conf.ReleaseParameter,
			Signer:    signer,
		})
		if err != nil {
			return err
		}
		if err := rec.Record(ctx, publish.BuildManifest(items, time.Now().UTC())); err != nil {
			return err
		}
	}

	m.SetLastSuccess(time.Now())
	pushMetrics(ctx, logger, m, conf.PushgatewayURL, "blog_publish")

	logger.Info(ctx, "publish complete",
		"target", siteTarget.Name,
		"bucket", target.Bucket,
		"uploaded", summary.Uploaded,
		"skipped", summary.Skipped,
		"bytes_uploaded", summary.BytesUploaded,
	)
	return nil
}

func runServe(ctx context.Context) error {
	var conf cfg.Serve
	logger, err := setup("serve", os.Args[2:],
		func(fs *flag.FlagSet) { cfg.RegisterServe(fs, &conf) },
		func() error { return cfg.ValidateServe(conf) },
		&conf.Common,
	)
	if err != nil {
		return err
	}
	defer logger.Sync()
	ctx = log.WithContext(ctx, logger)

	stopProf, shutdownOtel := initTelemetry(ctx, logger, conf.Common, "serve")
	defer stopProf()
	defer shutdownOtel(context.Background())

	m := metrics.New()
	m.SetBuildInfo(v.Get())

	b, err := newBuild(logger, m, conf.Build)
	if err != nil {
		return err
	}

	res, err := b.Run(ctx)
	if err != nil {
		return err
	}

	stopSrv, err := previewhttp.Start(ctx, &previewhttp.Options{
		Logger:  logger,
		Port:    conf.Port,
		Metrics: m,
		Result:  res,
	})
	if err != nil {
		return err
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return stopSrv(shutdownCtx)
}
