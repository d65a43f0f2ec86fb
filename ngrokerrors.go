package ngrok

import (
	"errors"
	"fmt"
	"strings"
)

// these are a set of strings to match against the ngrok output text.
const (
	processOutputTooManyConnections = "is limited to 1 simultaneous ngrok client session"
	processOutputAuthFailed         = "authentication failed"
)

// maxOutputLen caps how much of the child's stderr is kept for error messages.
const maxOutputLen = 4096

var (
	// ErrInvalidConfig is returned by Start when the configuration cannot
	//  produce a tunnel (missing protocol, port out of range, and so on).
	ErrInvalidConfig = errors.New("ngrok: invalid configuration")
	// ErrExecutableNotFound is returned when the ngrok executable does not
	//  exist on the given path or on $PATH.
	ErrExecutableNotFound = errors.New("ngrok: executable not found")
	// ErrProcessSpawn is returned when the OS refuses to create the child.
	ErrProcessSpawn = errors.New("ngrok: failed to spawn process")
	// ErrExistingSession is returned if you try to Start a second session
	//  while another one is still open. ngrok serves a single status API per
	//  machine, so two sessions would read each other's tunnels.
	ErrExistingSession = errors.New("ngrok: another session is already running")

	// ErrStatusUnreachable is returned when the status API never answered
	//  within the wait window.
	ErrStatusUnreachable = errors.New("ngrok: status API unreachable")
	// ErrTunnelNotFound is returned when the status API answered but never
	//  listed a tunnel for the session's port.
	ErrTunnelNotFound = errors.New("ngrok: no tunnel found for port")
	// ErrResponseParse is returned when the status API response is malformed
	//  or lacks a usable public URL.
	ErrResponseParse = errors.New("ngrok: malformed status API response")
	// ErrProcessExited is returned when the child exited without Close being called.
	ErrProcessExited = errors.New("ngrok: process exited")
	// ErrSessionClosed is returned by queries against a closed session.
	ErrSessionClosed = errors.New("ngrok: session closed")

	// ErrTooManyConnections is returned when ngrok reports that it cannot start due
	//  to another simultaneous connection. This generally means the ngrok process
	//  is already running elsewhere.
	ErrTooManyConnections = errors.New("ngrok: too many simultaneous connections")
	// ErrAuthFailed is returned when ngrok rejects the configured authtoken.
	ErrAuthFailed = errors.New("ngrok: authentication failed")
)

// LaunchError reports why Start could not produce a running session.
// Kind is one of ErrInvalidConfig, ErrExecutableNotFound, ErrProcessSpawn or
// ErrExistingSession.
type LaunchError struct {
	Kind       error
	Executable string
	Port       int
	Err        error
}

func (e *LaunchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (executable %q, port %d)", e.Kind, e.Executable, e.Port)
	}
	return fmt.Sprintf("%v (executable %q, port %d): %v", e.Kind, e.Executable, e.Port, e.Err)
}

func (e *LaunchError) Unwrap() []error {
	return joinKind(e.Kind, e.Err)
}

// QueryError reports a status query that gave up. Kind is one of
// ErrStatusUnreachable, ErrTunnelNotFound, ErrProcessExited or ErrSessionClosed.
type QueryError struct {
	Kind error
	URL  string
	Err  error
}

func (e *QueryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (%s)", e.Kind, e.URL)
	}
	return fmt.Sprintf("%v (%s): %v", e.Kind, e.URL, e.Err)
}

func (e *QueryError) Unwrap() []error {
	return joinKind(e.Kind, e.Err)
}

// ParseError reports a status response that could not be understood.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v (%s): %v", ErrResponseParse, e.URL, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return joinKind(ErrResponseParse, e.Err)
}

func joinKind(kind, err error) []error {
	if err == nil {
		return []error{kind}
	}
	return []error{kind, err}
}

// newOutputError classifies whatever ngrok wrote to stderr before exiting.
func newOutputError(outputBytes []byte) error {
	output := strings.TrimSpace(string(outputBytes))
	switch {
	case output == "":
		return nil
	case strings.Contains(output, processOutputTooManyConnections):
		return fmt.Errorf("%w: %s", ErrTooManyConnections, output)
	case strings.Contains(strings.ToLower(output), processOutputAuthFailed):
		return fmt.Errorf("%w: %s", ErrAuthFailed, output)
	default:
		return fmt.Errorf("ngrok output: %s", output)
	}
}

// limitedBuffer keeps the first maxOutputLen bytes written to it.
type limitedBuffer struct {
	buf []byte
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := maxOutputLen - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}
