package ngrok

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// Protocol is the kind of tunnel ngrok is asked to open. Only HTTP is supported.
type Protocol string

// HTTP tunnels an HTTP server.
const HTTP Protocol = "http"

const (
	defaultExecutable = "ngrok"
	defaultStatusURL  = "http://127.0.0.1:4040/api/tunnels"

	// how long after spawning before the first status query.
	defaultStartupWait = 1 * time.Second
	// how long to keep polling once queries have started.
	defaultWaitTimeout = 20 * time.Second
	// how long to wait between poll attempts (given the previous one did not succeed)
	defaultPollInterval = 250 * time.Millisecond
	// bound on a single status request.
	defaultQueryTimeout = 2 * time.Second
	// grace period between SIGTERM and SIGKILL.
	defaultShutdownTimeout = 4 * time.Second
)

// Config describes one ngrok session. It is copied into the Session on Start
// and never changes afterwards.
type Config struct {
	// Executable is the ngrok binary. A bare name is looked up on $PATH.
	Executable string   `yaml:"executable"`
	Protocol   Protocol `yaml:"protocol"`
	Port       int      `yaml:"port"`

	// StatusURL is the tunnel listing of ngrok's local inspection API.
	StatusURL       string        `yaml:"status_url"`
	StartupWait     time.Duration `yaml:"startup_wait"`
	WaitTimeout     time.Duration `yaml:"wait_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Logger *log.Logger `yaml:"-"`
}

// DefaultConfig returns an HTTP config with every timing filled in. Port is
// left unset and must be provided.
func DefaultConfig() Config {
	return Config{
		Executable:      defaultExecutable,
		Protocol:        HTTP,
		StatusURL:       defaultStatusURL,
		StartupWait:     defaultStartupWait,
		WaitTimeout:     defaultWaitTimeout,
		PollInterval:    defaultPollInterval,
		QueryTimeout:    defaultQueryTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// LoadConfigFile reads a YAML config on top of DefaultConfig. A missing file
// is not an error; the defaults are returned.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// withDefaults fills zero values, so a Config literal only needs a protocol
// and a port. StartupWait of zero means query right away.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Executable == "" {
		c.Executable = def.Executable
	}
	if c.StatusURL == "" {
		c.StatusURL = def.StatusURL
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = def.WaitTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = def.QueryTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Validate reports the first problem that would stop Start from spawning
// ngrok. The returned error wraps ErrInvalidConfig.
func (c Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) validate() error {
	switch {
	case c.Protocol == "":
		return errors.New("protocol not set, call HTTP()")
	case c.Protocol != HTTP:
		return fmt.Errorf("unsupported protocol %q", c.Protocol)
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.Executable == "":
		return errors.New("executable not set")
	case c.StartupWait < 0, c.WaitTimeout < 0, c.PollInterval < 0, c.QueryTimeout < 0, c.ShutdownTimeout < 0:
		return errors.New("negative duration")
	}
	if c.StatusURL != "" {
		u, err := url.Parse(c.StatusURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("bad status url %q", c.StatusURL)
		}
	}
	return nil
}

// Builder accumulates a Config through chained calls and starts a Session
// with Run.
type Builder struct {
	cfg Config
}

// NewBuilder returns a builder seeded with DefaultConfig minus the protocol,
// which has to be chosen with HTTP.
func NewBuilder() *Builder {
	cfg := DefaultConfig()
	cfg.Protocol = ""
	return &Builder{cfg: cfg}
}

// Executable sets the ngrok binary. By default "ngrok" is looked up on $PATH.
func (b *Builder) Executable(path string) *Builder {
	b.cfg.Executable = path
	return b
}

// HTTP sets the tunnel protocol to HTTP.
func (b *Builder) HTTP() *Builder {
	b.cfg.Protocol = HTTP
	return b
}

// Port sets the local port to expose.
func (b *Builder) Port(port int) *Builder {
	b.cfg.Port = port
	return b
}

// StatusURL points the session at a different status API, e.g. ngrok's web_addr.
func (b *Builder) StatusURL(u string) *Builder {
	b.cfg.StatusURL = u
	return b
}

// StartupWait sets the delay between spawning ngrok and the first status query.
func (b *Builder) StartupWait(d time.Duration) *Builder {
	b.cfg.StartupWait = d
	return b
}

// WaitTimeout sets how long status queries are retried before giving up.
func (b *Builder) WaitTimeout(d time.Duration) *Builder {
	b.cfg.WaitTimeout = d
	return b
}

// Logger sets the logger for session output. Defaults to log.Default().
func (b *Builder) Logger(l *log.Logger) *Builder {
	b.cfg.Logger = l
	return b
}

// Config returns a copy of the accumulated configuration.
func (b *Builder) Config() Config {
	return b.cfg
}

// Run starts the ngrok child process. See Start.
func (b *Builder) Run() (*Session, error) {
	return Start(b.cfg)
}
