package cryptoutil

import (
	"context"
	"crypto/sha256"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/davidsbond/blog/internal/xerrors"
)

// kmsSignAPI is the subset of the KMS API needed to sign a digest.
// Extracted as an interface to enable unit testing without live AWS
// credentials.
type kmsSignAPI interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// KMSSigner signs publish manifest digests with an asymmetric KMS key so the
// serving side can verify which artifact set a release pointer refers to.
type KMSSigner struct {
	client kmsSignAPI
	keyARN string
}

func NewKMSSigner(client *kms.Client, keyARN string) *KMSSigner {
	return &KMSSigner{client: client, keyARN: keyARN}
}

// newKMSSignerForTest allows test doubles in place of a real client.
func newKMSSignerForTest(client kmsSignAPI, keyARN string) *KMSSigner {
	return &KMSSigner{client: client, keyARN: keyARN}
}

// KeyARN returns the ARN of the signing key.
func (s *KMSSigner) KeyARN() string { return s.keyARN }

// SignManifest hashes the manifest bytes locally and asks KMS to sign the
// digest. Returns the raw signature and the signing algorithm used.
func (s *KMSSigner) SignManifest(ctx context.Context, manifest []byte) ([]byte, string, error) {
	if s.client == nil {
		return nil, "", xerrors.New("kms client is not configured")
	}

	digest := sha256.Sum256(manifest)

	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyARN),
		Message:          digest[:],
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "kms sign with key %s", s.keyARN)
	}
	if len(out.Signature) == 0 {
		return nil, "", xerrors.Newf("kms returned empty signature for key %s", s.keyARN)
	}

	return out.Signature, string(out.SigningAlgorithm), nil
}
