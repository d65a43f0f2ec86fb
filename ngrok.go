// Package ngrok launches an ngrok child process that exposes a local port on
// a public URL, and discovers that URL from ngrok's local status API.
//
// Only HTTP tunnels are supported, one session at a time. The limit is
// process-wide: a Session that is never closed makes every later Start fail
// with ErrExistingSession.
//
//	sess, err := ngrok.NewBuilder().HTTP().Port(3030).Run()
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//	public, err := sess.HTTP(ctx)
//
// See example/ngrokexample.go for a complete program.
package ngrok

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/nkconnor/ngrok/tunneler"
)

// ngrok serves a single status API per machine, so only one session may be
// open in this process at a time.
var (
	existingSession       = false
	existingSessionSyncer = &sync.Mutex{}
)

func releaseSession() {
	existingSessionSyncer.Lock()
	defer existingSessionSyncer.Unlock()
	existingSession = false
}

// Session owns one running ngrok process. It must be closed to stop the
// process; a Session never spawns a second one.
type Session struct {
	id        string
	cfg       Config
	log       *log.Logger
	cmd       *exec.Cmd
	status    *statusClient
	spawnedAt time.Time

	stderr *limitedBuffer
	// exitErr is written by supervise before done is closed.
	exitErr error
	done    chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ tunneler.Interface = (*Session)(nil)

// Start validates cfg, spawns `<executable> <protocol> <port>` and returns
// without waiting for the tunnel; the first HTTP, Tunnel or Endpoints call
// does the waiting. Zero timings in cfg take their defaults.
//
// Every failure is a *LaunchError and leaves no process behind.
func Start(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	launchErr := func(kind, err error) error {
		return &LaunchError{Kind: kind, Executable: cfg.Executable, Port: cfg.Port, Err: err}
	}
	if err := cfg.validate(); err != nil {
		return nil, launchErr(ErrInvalidConfig, err)
	}

	existingSessionSyncer.Lock()
	defer existingSessionSyncer.Unlock()
	if existingSession {
		return nil, launchErr(ErrExistingSession, nil)
	}

	id := uuid.NewString()
	logger := cfg.Logger.With("session", id, "port", cfg.Port)

	logger.Debug("Searching for ngrok", "executable", cfg.Executable)
	path, err := exec.LookPath(cfg.Executable)
	if err != nil {
		return nil, launchErr(ErrExecutableNotFound, err)
	}
	logger.Debug("ngrok found", "path", path)

	cmd := exec.Command(path, string(cfg.Protocol), strconv.Itoa(cfg.Port))
	// stdout is ngrok's terminal UI and is discarded. stderr carries startup
	// failures such as a rejected authtoken.
	stderr := &limitedBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, launchErr(ErrProcessSpawn, err)
	}
	existingSession = true

	s := &Session{
		id:        id,
		cfg:       cfg,
		log:       logger,
		cmd:       cmd,
		status:    newStatusClient(cfg.StatusURL),
		spawnedAt: time.Now(),
		stderr:    stderr,
		done:      make(chan struct{}),
	}
	go s.supervise()
	logger.Debug("ngrok started", "pid", cmd.Process.Pid)
	return s, nil
}

// supervise reaps the child and records why it exited.
func (s *Session) supervise() {
	err := s.cmd.Wait()
	if outErr := newOutputError(s.stderr.buf); outErr != nil {
		if err != nil {
			err = fmt.Errorf("%w: %w", outErr, err)
		} else {
			err = outErr
		}
	}
	s.exitErr = err
	if !s.closed.Load() {
		s.log.Debug("ngrok exited on its own", "err", err)
	}
	close(s.done)
}

// ID identifies the session in log output.
func (s *Session) ID() string { return s.id }

// Port is the local port being tunneled.
func (s *Session) Port() int { return s.cfg.Port }

// PID is the ngrok process id.
func (s *Session) PID() int { return s.cmd.Process.Pid }

// Done is closed once the ngrok process has exited and been reaped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Status returns nil while ngrok is running. Once the process has exited on
// its own it returns an error wrapping ErrProcessExited and the exit cause.
func (s *Session) Status() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case <-s.done:
		if s.exitErr == nil {
			return ErrProcessExited
		}
		return fmt.Errorf("%w: %w", ErrProcessExited, s.exitErr)
	default:
		return nil
	}
}

// HTTP returns the tunnel's public URL as reported by ngrok. It waits for
// ngrok to come up as described on Tunnel.
func (s *Session) HTTP(ctx context.Context) (*url.URL, error) {
	tun, err := s.Tunnel(ctx)
	if err != nil {
		return nil, err
	}
	return tun.HTTP(), nil
}

// Tunnel queries the status API for the tunnel forwarding to the session's
// port. Nothing is cached; every call asks ngrok again.
//
// Polling starts StartupWait after the process was spawned and lasts
// WaitTimeout. Within that window unreachable answers and answers without our
// tunnel are polled again every PollInterval; a malformed answer fails at once
// with a *ParseError. When the window runs out the result is a *QueryError of
// kind ErrStatusUnreachable, or ErrTunnelNotFound if ngrok did answer.
func (s *Session) Tunnel(ctx context.Context) (Tunnel, error) {
	matched, err := s.waitForTunnels(ctx)
	if err != nil {
		return Tunnel{}, err
	}
	u, err := s.status.publicURL(matched[0])
	if err != nil {
		return Tunnel{}, err
	}
	s.log.Info("ngrok tunnel established", "url", u.String())
	return Tunnel{url: u}, nil
}

// Endpoints returns every tunnel ngrok runs for the session's port. Older
// ngrok versions open an http and an https tunnel side by side.
func (s *Session) Endpoints(ctx context.Context) ([]tunneler.Endpoint, error) {
	matched, err := s.waitForTunnels(ctx)
	if err != nil {
		return nil, err
	}
	endpoints := make([]tunneler.Endpoint, 0, len(matched))
	for _, tun := range matched {
		u, err := s.status.publicURL(tun)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, tunneler.Endpoint{
			URL:    u,
			Secure: tun.Proto == "https" || u.Scheme == "https",
		})
	}
	return endpoints, nil
}

func (s *Session) waitForTunnels(ctx context.Context) ([]apiTunnel, error) {
	if s.closed.Load() {
		return nil, s.exitQueryError()
	}
	readyAt := s.spawnedAt.Add(s.cfg.StartupWait)
	if now := time.Now(); readyAt.Before(now) {
		readyAt = now
	}
	deadline := readyAt.Add(s.cfg.WaitTimeout)
	if err := s.sleepUntil(ctx, readyAt); err != nil {
		return nil, err
	}

	answered := false
	var lastErr error
	for attempt := 1; ; attempt++ {
		select {
		case <-s.done:
			return nil, s.exitQueryError()
		default:
		}

		s.log.Debug("Making request to ngrok status API", "url", s.status.url, "attempt", attempt)
		tunnels, err := s.query(ctx, deadline)
		switch {
		case err == nil:
			answered = true
			lastErr = nil
			if matched := matchPort(tunnels, s.cfg.Port); len(matched) > 0 {
				return matched, nil
			}
			s.log.Debug("No tunnel for port yet", "tunnels", len(tunnels))
		case errors.Is(err, errNotReady):
			lastErr = err
			s.log.Debug("ngrok status API not ready", "err", err)
		default:
			return nil, err
		}

		now := time.Now()
		if !now.Before(deadline) {
			kind := ErrStatusUnreachable
			if answered {
				kind = ErrTunnelNotFound
			}
			return nil, &QueryError{Kind: kind, URL: s.status.url, Err: lastErr}
		}
		next := now.Add(s.cfg.PollInterval)
		if next.After(deadline) {
			next = deadline
		}
		if err := s.sleepUntil(ctx, next); err != nil {
			return nil, err
		}
	}
}

// query is a single status request bounded by QueryTimeout and by the end
// of the wait window, whichever comes first.
func (s *Session) query(ctx context.Context, deadline time.Time) ([]apiTunnel, error) {
	if d := time.Now().Add(s.cfg.QueryTimeout); d.Before(deadline) {
		deadline = d
	}
	reqCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	tunnels, err := s.status.fetch(reqCtx)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return tunnels, err
}

// sleepUntil blocks until t, returning early if ctx ends or the process exits.
func (s *Session) sleepUntil(ctx context.Context, t time.Time) error {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.exitQueryError()
	case <-timer.C:
		return nil
	}
}

func (s *Session) exitQueryError() error {
	if s.closed.Load() {
		return &QueryError{Kind: ErrSessionClosed, URL: s.status.url}
	}
	return &QueryError{Kind: ErrProcessExited, URL: s.status.url, Err: s.exitErr}
}

// Close stops the ngrok process, ending the tunnel: SIGTERM first, SIGKILL
// after ShutdownTimeout. It returns once the process has been reaped and can
// be safely called multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		defer releaseSession()
		s.closeErr = s.terminate()
	})
	return s.closeErr
}

func (s *Session) terminate() error {
	select {
	case <-s.done:
		s.log.Debug("ngrok already exited")
		return nil
	default:
	}

	s.log.Debug("Sending SIGTERM to ngrok...")
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Debug("SIGTERM failed", "err", err)
	}
	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		s.log.Debug("ngrok shutdown successful")
		return nil
	case <-timer.C:
	}

	s.log.Warn("ngrok shutdown unsuccessful, killing process", "pid", s.cmd.Process.Pid)
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-s.done
	return nil
}
