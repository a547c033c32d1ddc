// Package cryptoutil provides the hashing and signing primitives the
// publish pipeline builds on.
//
// It supports:
//   - SHA-256 hashing utilities for artifact and manifest digests
//   - Constant-time hash comparison
//   - KMS-backed manifest signing (ECDSA P-256)
package cryptoutil
