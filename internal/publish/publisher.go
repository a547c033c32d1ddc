// Package publish uploads built artifacts to an S3 deployment target,
// honoring per-artifact cache-control and compression directives. Uploads
// are idempotent: objects whose content hash and directive already match the
// remote copy are skipped, so re-publishing an identical artifact set is an
// observable no-op.
package publish

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"mime"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/time/rate"

	"github.com/davidsbond/blog/internal/cryptoutil"
	"github.com/davidsbond/blog/internal/log"
	"github.com/davidsbond/blog/internal/xerrors"
)

// hashMetadataKey is the object metadata key carrying the SHA-256 of the
// uncompressed artifact body. Hash comparison, not byte comparison, is what
// makes re-publishing cheap.
const hashMetadataKey = "content-sha256"

// directiveMetadataKey carries the SHA-256 of the directive the object was
// last uploaded under. Cache-control and compression changes must re-upload
// even when the body is unchanged.
const directiveMetadataKey = "directive-sha256"

// Item is one artifact plus its publish directive.
type Item struct {
	Path         string
	Body         []byte
	CacheControl *string
	Gzip         bool
}

// Summary reports what a publish run did.
type Summary struct {
	Uploaded      int
	Skipped       int
	BytesUploaded int64
}

// s3API is the subset of the S3 client the publisher needs. Extracted to
// decouple from the concrete client and enable test doubles.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Options struct {
	Logger log.Logger

	// Bucket and Prefix locate the artifact tree in S3.
	Bucket string
	Prefix string

	// Client is the S3 client to upload with.
	Client s3API

	// UploadsPerSecond caps the request rate. Zero means unlimited.
	UploadsPerSecond float64
}

type Publisher struct {
	opts    Options
	limiter *rate.Limiter
	logger  log.Logger
}

func New(opts Options) (*Publisher, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("Bucket is required")
	}
	if opts.Client == nil {
		return nil, xerrors.New("Client is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.UploadsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.UploadsPerSecond), 1)
	}

	return &Publisher{opts: opts, limiter: limiter, logger: opts.Logger}, nil
}

// Publish uploads every item, skipping those already present with an
// identical content hash. Any failure aborts the run; completed uploads are
// not rolled back, but re-running converges because of idempotent skips.
func (p *Publisher) Publish(ctx context.Context, items []Item) (Summary, error) {
	var sum Summary

	for _, item := range items {
		uploaded, n, err := p.publishOne(ctx, item)
		if err != nil {
			return sum, xerrors.Wrapf(err, "publish %s", item.Path)
		}
		if uploaded {
			sum.Uploaded++
			sum.BytesUploaded += n
		} else {
			sum.Skipped++
		}
	}

	p.logger.Info(ctx, "publish complete",
		"bucket", p.opts.Bucket,
		"uploaded", sum.Uploaded,
		"skipped", sum.Skipped,
		"bytes", sum.BytesUploaded,
	)
	return sum, nil
}

func (p *Publisher) publishOne(ctx context.Context, item Item) (uploaded bool, n int64, err error) {
	key := p.key(item.Path)
	directive := directiveString(item)

	remote, err := p.remoteState(ctx, key)
	if err != nil {
		return false, 0, err
	}
	if remote.hash != "" &&
		cryptoutil.SHA256Matches(item.Body, remote.hash) &&
		cryptoutil.SHA256Matches([]byte(directive), remote.directive) {
		p.logger.Debug(ctx, "unchanged, skipping", "key", key)
		return false, 0, nil
	}

	body := item.Body
	var encoding *string
	if item.Gzip {
		body, err = gzipBytes(item.Body)
		if err != nil {
			return false, 0, xerrors.Wrap(err, "gzip body")
		}
		encoding = aws.String("gzip")
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return false, 0, err
	}

	in := &s3.PutObjectInput{
		Bucket:          aws.String(p.opts.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String(contentTypeFor(item.Path)),
		ContentEncoding: encoding,
		CacheControl:    item.CacheControl,
		Metadata: map[string]string{
			hashMetadataKey:      cryptoutil.SHA256Hex(item.Body),
			directiveMetadataKey: cryptoutil.SHA256Hex([]byte(directive)),
		},
	}

	if _, err := p.opts.Client.PutObject(ctx, in); err != nil {
		return false, 0, xerrors.Wrap(err, "put object")
	}

	p.logger.Debug(ctx, "uploaded",
		"key", key,
		"bytes", len(body),
		"gzip", item.Gzip,
	)
	return true, int64(len(body)), nil
}

// remoteState is what a previous upload recorded about an object: the body
// hash and the directive hash it was published under.
type remoteState struct {
	hash      string
	directive string
}

// remoteState returns the stored publish state for key, or the zero value
// when the object does not exist yet.
func (p *Publisher) remoteState(ctx context.Context, key string) (remoteState, error) {
	out, err := p.opts.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return remoteState{}, nil
		}
		return remoteState{}, xerrors.Wrap(err, "head object")
	}
	return remoteState{
		hash:      out.Metadata[hashMetadataKey],
		directive: out.Metadata[directiveMetadataKey],
	}, nil
}

// directiveString canonicalizes an item's publish directive for hashing.
// An absent cache-control must stay distinguishable from any present value,
// including the empty string.
func directiveString(item Item) string {
	s := "gzip=" + strconv.FormatBool(item.Gzip)
	if item.CacheControl != nil {
		s += "\ncache-control=" + *item.CacheControl
	}
	return s
}

func (p *Publisher) key(artifactPath string) string {
	if p.opts.Prefix == "" {
		return artifactPath
	}
	return path.Join(p.opts.Prefix, artifactPath)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	// fixed level keeps output stable across runs
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func contentTypeFor(p string) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Target is a parsed deployment target URL of the form
// s3://bucket/prefix?region=eu-west-2.
type Target struct {
	Bucket string
	Prefix string
	Region string
}

// ParseTarget parses a deployment target URL from the site configuration.
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, xerrors.Wrapf(err, "parse target URL %q", raw)
	}
	if u.Scheme != "s3" {
		return Target{}, xerrors.Newf("unsupported target scheme %q (only s3:// is supported)", u.Scheme)
	}
	if u.Host == "" {
		return Target{}, xerrors.Newf("target URL %q has no bucket", raw)
	}
	return Target{
		Bucket: u.Host,
		Prefix: strings.Trim(u.Path, "/"),
		Region: u.Query().Get("region"),
	}, nil
}
