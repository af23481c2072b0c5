package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"keygate/internal/config"
	"keygate/internal/token"
)

func writeTestSigningKey(t *testing.T) string {
	t.Helper()

	_, priv, err := token.GenerateKeyPair()
	require.NoError(t, err)

	pemData, err := token.MarshalPrivateKeyPEM(priv)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "signing.pem")
	require.NoError(t, os.WriteFile(path, pemData, 0o600))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.LoadFromFile("")
	require.NoError(t, err)
	cfg.Store.Backend = "memory"
	cfg.Signing.PrivateKeyPath = writeTestSigningKey(t)
	cfg.Logging.Output = "console"
	return cfg
}

func TestNewWithConfig(t *testing.T) {
	app, err := NewWithConfig(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, app.Server)
	require.Equal(t, ":8090", app.Server.Addr)
	require.NoError(t, app.Store.Close())
}

func TestNewWithConfig_MissingSigningKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Signing.PrivateKeyPath = filepath.Join(t.TempDir(), "does-not-exist.pem")

	_, err := NewWithConfig(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "signing key")
}
