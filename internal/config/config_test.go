package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LOCKDROP_JWT_SECRET", "jwt-secret")
	t.Setenv("LOCKDROP_MASTER_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Address)
	require.Equal(t, int64(10<<20), cfg.MaxFileSize)
	require.Equal(t, 30*time.Minute, cfg.AccessTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	require.Equal(t, 10*time.Minute, cfg.DownloadTTL)
	require.Contains(t, cfg.AllowedExtensions, "pdf")
	require.NotContains(t, cfg.AllowedExtensions, "exe")
	require.True(t, cfg.EncryptFiles)
	require.Equal(t, 15*time.Minute, cfg.OrphanGrace)
	require.Nil(t, cfg.MasterKey)
}

func TestLoad_Overrides(t *testing.T) {
	key := base64.URLEncoding.EncodeToString(make([]byte, 32))
	t.Setenv("LOCKDROP_JWT_SECRET", "jwt-secret")
	t.Setenv("LOCKDROP_MASTER_KEY", key)
	t.Setenv("LOCKDROP_ALLOWED_EXTENSIONS", " .TXT, md ,")
	t.Setenv("LOCKDROP_MAX_FILE_BYTES", "1024")
	t.Setenv("LOCKDROP_DOWNLOAD_TTL", "2m")
	t.Setenv("LOCKDROP_CATALOG", "memory")
	t.Setenv("LOCKDROP_ENCRYPT_FILES", "false")
	t.Setenv("LOCKDROP_ORPHAN_GRACE", "1h")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.MasterKey, MasterKeySize)
	require.Equal(t, []string{"txt", "md"}, cfg.AllowedExtensions)
	require.Equal(t, int64(1024), cfg.MaxFileSize)
	require.Equal(t, 2*time.Minute, cfg.DownloadTTL)
	require.Equal(t, "memory", cfg.Catalog)
	require.False(t, cfg.EncryptFiles)
	require.Equal(t, time.Hour, cfg.OrphanGrace)
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("LOCKDROP_JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsUnknownBackends(t *testing.T) {
	t.Setenv("LOCKDROP_JWT_SECRET", "x")
	t.Setenv("LOCKDROP_STORAGE", "ftp")
	_, err := Load()
	require.Error(t, err)
}

func TestParseMasterKey(t *testing.T) {
	t.Parallel()

	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		got, err := ParseMasterKey(enc.EncodeToString(raw))
		require.NoError(t, err)
		require.Equal(t, raw, got)
	}

	got, err := ParseMasterKey("")
	require.NoError(t, err)
	require.Nil(t, got)

	// Short keys are rejected, never padded.
	_, err = ParseMasterKey(base64.StdEncoding.EncodeToString([]byte("short")))
	require.ErrorIs(t, err, ErrMasterKey)

	_, err = ParseMasterKey("%%% not base64 %%%")
	require.ErrorIs(t, err, ErrMasterKey)
}
