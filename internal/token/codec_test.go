package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgerrors "keygate/internal/errors"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	_, priv, err := GenerateKeyPair()
	require.NoError(t, err)
	codec, err := NewSigningCodec(priv)
	require.NoError(t, err)
	return codec
}

func testPayload() Payload {
	now := time.Now().Truncate(time.Second)
	return Payload{
		DeviceID:  "device-1234",
		KeyHint:   "ABCD****EFGH",
		IssuedAt:  now,
		ExpiresAt: now.Add(30 * 24 * time.Hour),
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	payload := testPayload()

	signed, err := codec.Sign(payload)
	require.NoError(t, err)
	assert.Len(t, strings.Split(signed, "."), 3)

	got, err := codec.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, payload.DeviceID, got.DeviceID)
	assert.Equal(t, payload.KeyHint, got.KeyHint)
	assert.True(t, payload.IssuedAt.Equal(got.IssuedAt))
	assert.True(t, payload.ExpiresAt.Equal(got.ExpiresAt))
}

func TestVerify_TamperedSegments(t *testing.T) {
	codec := newTestCodec(t)
	signed, err := codec.Sign(testPayload())
	require.NoError(t, err)

	parts := strings.Split(signed, ".")
	require.Len(t, parts, 3)

	tests := []struct {
		name  string
		token string
	}{
		{"tampered payload", parts[0] + "." + parts[1] + "x." + parts[2]},
		{"tampered signature", parts[0] + "." + parts[1] + "." + parts[2][:len(parts[2])-2] + "xx"},
		{"two segments", parts[0] + "." + parts[1]},
		{"four segments", signed + ".extra"},
		{"empty token", ""},
		{"garbage", "not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := codec.Verify(tt.token)
			assert.ErrorIs(t, err, kgerrors.ErrUntrustedToken)
			assert.Nil(t, payload)
		})
	}
}

func TestVerify_WrongKey(t *testing.T) {
	codec := newTestCodec(t)
	other := newTestCodec(t)

	signed, err := codec.Sign(testPayload())
	require.NoError(t, err)

	_, err = other.Verify(signed)
	assert.ErrorIs(t, err, kgerrors.ErrUntrustedToken)
}

func TestVerify_ExpiredTokenStillDecodes(t *testing.T) {
	// Expiry is the resolver's decision: the offline fallback trusts an
	// expired token whose signature verifies.
	codec := newTestCodec(t)
	payload := testPayload()
	payload.IssuedAt = time.Now().Add(-60 * 24 * time.Hour)
	payload.ExpiresAt = time.Now().Add(-30 * 24 * time.Hour)

	signed, err := codec.Sign(payload)
	require.NoError(t, err)

	got, err := codec.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, payload.DeviceID, got.DeviceID)
}

func TestSign_VerifyOnlyCodecFails(t *testing.T) {
	signing := newTestCodec(t)
	verifying, err := NewVerifyingCodec(signing.publicKey)
	require.NoError(t, err)

	_, err = verifying.Sign(testPayload())
	assert.ErrorIs(t, err, kgerrors.ErrSigningKeyUnavailable)

	// Verification still works without the private key
	signed, err := signing.Sign(testPayload())
	require.NoError(t, err)
	_, err = verifying.Verify(signed)
	assert.NoError(t, err)
}

func TestNewSigningCodec_NilKey(t *testing.T) {
	_, err := NewSigningCodec(nil)
	assert.ErrorIs(t, err, kgerrors.ErrSigningKeyUnavailable)
}

func TestKeyPEM_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	privPEM, err := MarshalPrivateKeyPEM(priv)
	require.NoError(t, err)
	pubPEM, err := MarshalPublicKeyPEM(pub)
	require.NoError(t, err)

	gotPriv, err := ParsePrivateKeyPEM(privPEM)
	require.NoError(t, err)
	assert.Equal(t, priv, gotPriv)

	gotPub, err := ParsePublicKeyPEM(pubPEM)
	require.NoError(t, err)
	assert.Equal(t, pub, gotPub)
}

func TestLoadSigningCodec_MissingFile(t *testing.T) {
	_, err := LoadSigningCodec("/nonexistent/key.pem")
	assert.ErrorIs(t, err, kgerrors.ErrSigningKeyUnavailable)
}
