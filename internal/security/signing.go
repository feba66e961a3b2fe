// Package security signs outgoing data snapshots so downstream consumers can
// verify that a response originated from this service and was not altered in
// transit.
package security

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// Signer attaches secp256k1 signatures to response payloads. Keys are
// generated per process; verification across restarts needs the published
// public key from a prior /status call.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	publicKey  string
	validity   time.Duration
	enabled    bool
}

// NewSigner generates a fresh key pair. When enabled is false every Sign call
// passes the payload through untouched.
func NewSigner(enabled bool, validity time.Duration) (*Signer, error) {
	if validity <= 0 {
		validity = time.Hour
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	s := &Signer{
		privateKey: privateKey,
		publicKey:  fmt.Sprintf("0x%x", crypto.FromECDSAPub(&privateKey.PublicKey)),
		validity:   validity,
		enabled:    enabled,
	}
	if enabled {
		logrus.Infof("Response signing enabled, public key %s...", s.publicKey[:18])
	}
	return s, nil
}

// PublicKey returns the hex-encoded uncompressed public key.
func (s *Signer) PublicKey() string { return s.publicKey }

// Sign wraps a payload with signature metadata under the "_signature" key.
// The signature covers the keccak256 hash of the canonical JSON payload plus
// the issue timestamp, so a replayed signature cannot be re-dated.
func (s *Signer) Sign(payload map[string]interface{}) (map[string]interface{}, error) {
	if !s.enabled {
		return payload, nil
	}

	issued := time.Now().Unix()
	digest, err := payloadDigest(payload, issued)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	out := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["_signature"] = map[string]interface{}{
		"signature":   fmt.Sprintf("0x%x", sig),
		"public_key":  s.publicKey,
		"algorithm":   "secp256k1-keccak256",
		"timestamp":   issued,
		"valid_until": time.Now().Add(s.validity).Unix(),
	}
	return out, nil
}

// Verify checks the signature metadata on a wrapped payload. A payload signed
// by a different key, altered after signing, or past its validity window
// fails.
func (s *Signer) Verify(signed map[string]interface{}) (bool, error) {
	if !s.enabled {
		return true, nil
	}

	meta, ok := signed["_signature"].(map[string]interface{})
	if !ok {
		return false, fmt.Errorf("signature metadata missing")
	}

	sigHex, ok := meta["signature"].(string)
	if !ok || len(sigHex) < 2 {
		return false, fmt.Errorf("invalid signature format")
	}
	issued, ok := numericClaim(meta["timestamp"])
	if !ok {
		return false, fmt.Errorf("invalid timestamp claim")
	}
	validUntil, ok := numericClaim(meta["valid_until"])
	if !ok {
		return false, fmt.Errorf("invalid valid_until claim")
	}
	if time.Now().Unix() > validUntil {
		return false, fmt.Errorf("signature expired at %v", time.Unix(validUntil, 0))
	}

	var sig []byte
	if _, err := fmt.Sscanf(sigHex, "0x%x", &sig); err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return false, fmt.Errorf("invalid signature length: %d", len(sig))
	}

	payload := make(map[string]interface{}, len(signed)-1)
	for k, v := range signed {
		if k != "_signature" {
			payload[k] = v
		}
	}
	digest, err := payloadDigest(payload, issued)
	if err != nil {
		return false, err
	}

	// VerifySignature takes the signature without the recovery byte.
	pubKey := crypto.FromECDSAPub(&s.privateKey.PublicKey)
	return crypto.VerifySignature(pubKey, digest, sig[:crypto.RecoveryIDOffset]), nil
}

// payloadDigest hashes the JSON payload together with the issue timestamp.
// json.Marshal sorts map keys, which makes the encoding canonical.
func payloadDigest(payload map[string]interface{}, issued int64) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	inner := sha256.Sum256(raw)
	return crypto.Keccak256(inner[:], []byte(fmt.Sprintf("%d", issued))), nil
}

func numericClaim(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
