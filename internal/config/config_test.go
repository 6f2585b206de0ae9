package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "boardchat", cfg.Mongo.Database)
	assert.Equal(t, "public.pem", cfg.Auth.PublicKeyPath)
	assert.Equal(t, int64(4096), cfg.Server.ReadLimit)
	assert.Equal(t, 10, cfg.Auth.AttemptsPerMinute)
	require.NoError(t, Validate(cfg))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHATSERVER_SERVER_ADDR", ":9999")
	t.Setenv("CHATSERVER_MONGO_URI", "mongodb://db.internal:27017")
	t.Setenv("CHATSERVER_AUTH_PUBLIC_KEY_PATH", "/etc/chatserver/public.pem")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "mongodb://db.internal:27017", cfg.Mongo.URI)
	assert.Equal(t, "/etc/chatserver/public.pem", cfg.Auth.PublicKeyPath)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatserver.toml")
	contents := `
[server]
addr = ":7070"
read_limit = 1024

[mongo]
database = "boardchat_test"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, int64(1024), cfg.Server.ReadLimit)
	assert.Equal(t, "boardchat_test", cfg.Mongo.Database)
	// untouched keys keep defaults
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Mongo.URI = ""
	assert.Error(t, Validate(cfg))
}
