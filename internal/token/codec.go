// Package token signs and verifies entitlement tokens. A token is a JWT:
// three base64url segments (header, payload, signature) joined by dots,
// signed with the server's Ed25519 key. Tokens are signed, never encrypted,
// so the payload must not carry secrets.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	kgerrors "keygate/internal/errors"
)

// Payload is the signed content of an entitlement token.
type Payload struct {
	DeviceID  string
	KeyHint   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// entitlementClaims is the JWT claim set carrying the payload.
type entitlementClaims struct {
	DeviceID string `json:"deviceId"`
	KeyHint  string `json:"keyHint"`
	jwt.RegisteredClaims
}

// Codec signs and verifies entitlement tokens. A verify-only codec holds no
// private key and fails Sign deterministically.
type Codec struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewSigningCodec builds a codec that can both sign and verify. A missing
// private key is a fatal configuration error, not a per-request condition.
func NewSigningCodec(privateKey ed25519.PrivateKey) (*Codec, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, kgerrors.ErrSigningKeyUnavailable
	}
	return &Codec{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
	}, nil
}

// NewVerifyingCodec builds a verify-only codec from the server's public key.
func NewVerifyingCodec(publicKey ed25519.PublicKey) (*Codec, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length %d", len(publicKey))
	}
	return &Codec{publicKey: publicKey}, nil
}

// LoadSigningCodec reads a PEM-encoded PKCS#8 Ed25519 private key from disk.
func LoadSigningCodec(privateKeyPath string) (*Codec, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kgerrors.ErrSigningKeyUnavailable, err)
	}
	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kgerrors.ErrSigningKeyUnavailable, err)
	}
	return NewSigningCodec(key)
}

// LoadVerifyingCodec reads a PEM-encoded PKIX Ed25519 public key from disk.
func LoadVerifyingCodec(publicKeyPath string) (*Codec, error) {
	data, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	key, err := ParsePublicKeyPEM(data)
	if err != nil {
		return nil, err
	}
	return NewVerifyingCodec(key)
}

// Sign serializes and signs the payload. Fails when the codec holds no
// private key.
func (c *Codec) Sign(p Payload) (string, error) {
	if c.privateKey == nil {
		return "", kgerrors.ErrSigningKeyUnavailable
	}

	claims := entitlementClaims{
		DeviceID: p.DeviceID,
		KeyHint:  p.KeyHint,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(p.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(p.ExpiresAt),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := tok.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's structure and signature and returns the decoded
// payload. Any parse or signature failure returns an error wrapping
// ErrUntrustedToken; callers treat that as "no credential". Expiry is
// deliberately NOT checked here: the resolver's offline fallback accepts an
// expired token whose signature still verifies, so freshness and expiry stay
// the caller's decision.
func (c *Codec) Verify(tokenString string) (*Payload, error) {
	claims := &entitlementClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return c.publicKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kgerrors.ErrUntrustedToken, err)
	}
	if !tok.Valid {
		return nil, kgerrors.ErrUntrustedToken
	}
	if claims.DeviceID == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: incomplete claims", kgerrors.ErrUntrustedToken)
	}

	return &Payload{
		DeviceID:  claims.DeviceID,
		KeyHint:   claims.KeyHint,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// GenerateKeyPair mints a fresh Ed25519 keypair.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// MarshalPrivateKeyPEM encodes a private key as PEM-wrapped PKCS#8.
func MarshalPrivateKeyPEM(key ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// MarshalPublicKeyPEM encodes a public key as PEM-wrapped PKIX.
func MarshalPublicKeyPEM(key ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes a PEM-wrapped PKCS#8 Ed25519 private key.
func ParsePrivateKeyPEM(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want ed25519", parsed)
	}
	return key, nil
}

// ParsePublicKeyPEM decodes a PEM-wrapped PKIX Ed25519 public key.
func ParsePublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want ed25519", parsed)
	}
	return key, nil
}
