package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/davidsbond/blog/internal/cryptoutil"
	"github.com/davidsbond/blog/internal/log"
	"github.com/davidsbond/blog/internal/xerrors"
)

// Manifest describes one published artifact set. The inventory hash is
// computed over sorted path/hash pairs only, so the same artifact set always
// produces the same hash regardless of when it was built.
type Manifest struct {
	InventoryHash string          `json:"inventory_hash"`
	BuiltAt       time.Time       `json:"built_at"`
	Artifacts     []ManifestEntry `json:"artifacts"`
}

type ManifestEntry struct {
	Path         string  `json:"path"`
	SHA256       string  `json:"sha256"`
	Size         int64   `json:"size"`
	CacheControl *string `json:"cache_control,omitempty"`
	Gzip         bool    `json:"gzip,omitempty"`
}

// BuildManifest summarizes items into a manifest with a deterministic
// inventory hash.
func BuildManifest(items []Item, builtAt time.Time) Manifest {
	entries := make([]ManifestEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, ManifestEntry{
			Path:         it.Path,
			SHA256:       cryptoutil.SHA256Hex(it.Body),
			Size:         int64(len(it.Body)),
			CacheControl: it.CacheControl,
			Gzip:         it.Gzip,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	var inv bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&inv, "%s %s\n", e.Path, e.SHA256)
	}

	return Manifest{
		InventoryHash: cryptoutil.SHA256Hex(inv.Bytes()),
		BuiltAt:       builtAt,
		Artifacts:     entries,
	}
}

// ManifestSigner signs manifest bytes, returning the signature and the
// algorithm used. Implemented by cryptoutil.KMSSigner.
type ManifestSigner interface {
	SignManifest(ctx context.Context, manifest []byte) (sig []byte, algorithm string, err error)
}

// ssmAPI is the subset of the SSM client needed to record a release pointer.
type ssmAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// RecorderOptions configures release recording after a successful publish.
type RecorderOptions struct {
	Logger log.Logger

	// Bucket and Prefix locate the manifest store, usually the same bucket
	// the artifacts were published to.
	Bucket string
	Prefix string

	S3Client  s3API
	SSMClient ssmAPI

	// Parameter is the SSM parameter holding the current release's
	// inventory hash. Consumers poll it to discover new releases.
	Parameter string

	// Signer optionally signs the manifest so consumers can verify it.
	Signer ManifestSigner
}

// Recorder writes the release manifest and updates the release pointer.
type Recorder struct {
	opts   RecorderOptions
	logger log.Logger
}

func NewRecorder(opts RecorderOptions) (*Recorder, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("Bucket is required")
	}
	if opts.S3Client == nil {
		return nil, xerrors.New("S3Client is required")
	}
	if opts.Parameter != "" && opts.SSMClient == nil {
		return nil, xerrors.New("SSMClient is required when Parameter is set")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Recorder{opts: opts, logger: opts.Logger}, nil
}

// Record uploads the manifest (and its signature when a signer is
// configured), then points the SSM release parameter at the new inventory
// hash. The pointer moves last so consumers never observe a hash whose
// manifest is not yet readable.
func (r *Recorder) Record(ctx context.Context, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return xerrors.Wrap(err, "marshal manifest")
	}

	key := r.manifestKey(m.InventoryHash)
	_, err = r.opts.S3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return xerrors.Wrapf(err, "upload manifest %s", key)
	}

	if r.opts.Signer != nil {
		sig, alg, err := r.opts.Signer.SignManifest(ctx, data)
		if err != nil {
			return xerrors.Wrap(err, "sign manifest")
		}
		sigKey := key + ".sig"
		_, err = r.opts.S3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(r.opts.Bucket),
			Key:         aws.String(sigKey),
			Body:        bytes.NewReader(sig),
			ContentType: aws.String("application/octet-stream"),
		})
		if err != nil {
			return xerrors.Wrapf(err, "upload signature %s", sigKey)
		}
		r.logger.Info(ctx, "signed manifest", "algorithm", alg, "key", sigKey)
	}

	if r.opts.Parameter != "" {
		_, err = r.opts.SSMClient.PutParameter(ctx, &ssm.PutParameterInput{
			Name:      aws.String(r.opts.Parameter),
			Value:     aws.String(m.InventoryHash),
			Type:      ssmtypes.ParameterTypeString,
			Overwrite: aws.Bool(true),
		})
		if err != nil {
			return xerrors.Wrapf(err, "update release parameter %s", r.opts.Parameter)
		}
	}

	r.logger.Info(ctx, "recorded release",
		"inventory_hash", m.InventoryHash,
		"artifacts", len(m.Artifacts),
		"parameter", r.opts.Parameter,
	)
	return nil
}

func (r *Recorder) manifestKey(hash string) string {
	return path.Join(r.opts.Prefix, "manifests", hash+".json")
}
