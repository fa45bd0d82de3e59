package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "corpora", cfg.Storage.Root)
	assert.Equal(t, 1, cfg.Sparv.Workers)
	assert.Equal(t, []string{"sparv"}, cfg.Sparv.Command)
	assert.Equal(t, []string{"run", "--log-to-file", "info"}, cfg.Sparv.RunArgs)
	assert.Equal(t, "annod.out", cfg.Sparv.NohupFile)
	assert.Equal(t, "annod-data", cfg.Sparv.RemoteCorporaDir)
	assert.Equal(t, "queue", cfg.Queue.Dir)
	assert.Equal(t, 20*time.Second, cfg.Queue.CheckFrequency)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annod.yaml")
	data := `
server:
  host: 0.0.0.0
  port: 9000
  secret_key: hunter2
storage:
  backend: s3
  bucket: corpora-bucket
  region: eu-north-1
sparv:
  host: annotate.example.com
  user: sparv
  workers: 4
  importers:
    .xml: custom_xml_import
queue:
  check_frequency: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "hunter2", cfg.Server.SecretKey)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "corpora-bucket", cfg.Storage.Bucket)
	assert.Equal(t, 4, cfg.Sparv.Workers)
	assert.Equal(t, map[string]string{".xml": "custom_xml_import"}, cfg.Sparv.Importers)
	assert.Equal(t, 45*time.Second, cfg.Queue.CheckFrequency)
	// File values merge over defaults.
	assert.Equal(t, []string{"sparv"}, cfg.Sparv.Command)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("ANNOD_SERVER_PORT", "7777")
	t.Setenv("ANNOD_REDIS_ADDR", "localhost:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Storage: StorageConfig{Backend: "local", Root: "corpora"},
			Sparv:   SparvConfig{Workers: 1, Command: []string{"sparv"}},
		}
	}

	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.Storage.Backend = "ftp"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Root = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Backend = "s3"
	assert.Error(t, cfg.Validate(), "s3 backend needs a bucket")
	cfg.Storage.Bucket = "b"
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Sparv.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Sparv.Command = nil
	assert.Error(t, cfg.Validate())
}
