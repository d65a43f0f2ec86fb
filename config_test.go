package ngrok

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFile(t *testing.T) {
	t.Run("overlays defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ngrok.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
executable: /opt/ngrok/bin/ngrok
port: 3030
status_url: http://127.0.0.1:4041/api/tunnels
startup_wait: 2s
wait_timeout: 1m
`), 0o644))

		cfg, err := LoadConfigFile(path)
		require.NoError(t, err)
		assert.Equal(t, "/opt/ngrok/bin/ngrok", cfg.Executable)
		assert.Equal(t, HTTP, cfg.Protocol)
		assert.Equal(t, 3030, cfg.Port)
		assert.Equal(t, "http://127.0.0.1:4041/api/tunnels", cfg.StatusURL)
		assert.Equal(t, 2*time.Second, cfg.StartupWait)
		assert.Equal(t, time.Minute, cfg.WaitTimeout)
		assert.Equal(t, defaultPollInterval, cfg.PollInterval)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing file", func(t *testing.T) {
		cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ngrok.yaml")
		require.NoError(t, os.WriteFile(path, []byte("port: [3030"), 0o644))
		_, err := LoadConfigFile(path)
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ngrok.yaml")
		require.NoError(t, os.WriteFile(path, []byte("wait_timeout: soon"), 0o644))
		_, err := LoadConfigFile(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "port is required")

	cfg.Port = 3030
	assert.NoError(t, cfg.Validate())

	cfg.Protocol = "tls"
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), `"tls"`)
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{Protocol: HTTP, Port: 3030}.withDefaults()
	assert.Equal(t, defaultExecutable, cfg.Executable)
	assert.Equal(t, defaultStatusURL, cfg.StatusURL)
	assert.Equal(t, time.Duration(0), cfg.StartupWait)
	assert.Equal(t, defaultWaitTimeout, cfg.WaitTimeout)
	assert.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.NotNil(t, cfg.Logger)
}

func TestBuilderConfig(t *testing.T) {
	cfg := NewBuilder().
		Executable("/usr/local/bin/ngrok").
		HTTP().
		Port(8080).
		WaitTimeout(time.Second).
		Config()
	assert.Equal(t, "/usr/local/bin/ngrok", cfg.Executable)
	assert.Equal(t, HTTP, cfg.Protocol)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.Second, cfg.WaitTimeout)
	assert.Equal(t, defaultStartupWait, cfg.StartupWait)

	assert.Empty(t, NewBuilder().Config().Protocol)
}
