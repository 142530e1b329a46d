// Package security attaches and verifies secp256k1 signatures on emitted
// metric records, so downstream consumers can prove a record came from this
// engine and was not altered after emission.
package security

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/poolbench/internal/model"
)

// Signer signs records over their canonical JSON form. Signing is
// deterministic: the same key and record always produce the same signature,
// so re-emitting an unchanged record is byte-identical to the first emission.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner parses a hex-encoded secp256k1 private key.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	s := &Signer{key: key}
	logrus.WithField("publicKey", s.PublicKey()).Info("Record signing enabled")
	return s, nil
}

// PublicKey returns the uncompressed public key as 0x-prefixed hex.
func (s *Signer) PublicKey() string {
	return hexutil.Encode(crypto.FromECDSAPub(&s.key.PublicKey))
}

// Sign computes the signature over the record's canonical JSON and returns
// it as 0x-prefixed hex. The record's own signature field is excluded from
// the signed bytes.
func (s *Signer) Sign(record model.CommonMetricRecord) (string, error) {
	payload, err := record.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("canonicalize record %s: %w", record.Key(), err)
	}
	sig, err := crypto.Sign(crypto.Keccak256(payload), s.key)
	if err != nil {
		return "", fmt.Errorf("sign record %s: %w", record.Key(), err)
	}
	return hexutil.Encode(sig), nil
}

// Verify checks a record's embedded signature against a 0x-prefixed hex
// public key. It recomputes the canonical bytes, so any field tampering
// invalidates the signature.
func Verify(record model.CommonMetricRecord, publicKeyHex string) (bool, error) {
	if record.Signature == "" {
		return false, fmt.Errorf("record %s carries no signature", record.Key())
	}
	sig, err := hexutil.Decode(record.Signature)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return false, fmt.Errorf("signature has %d bytes, want %d", len(sig), crypto.SignatureLength)
	}
	pub, err := hexutil.Decode(publicKeyHex)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}

	payload, err := record.CanonicalJSON()
	if err != nil {
		return false, fmt.Errorf("canonicalize record %s: %w", record.Key(), err)
	}

	// Drop the recovery byte; VerifySignature expects the 64-byte form.
	return crypto.VerifySignature(pub, crypto.Keccak256(payload), sig[:crypto.SignatureLength-1]), nil
}
