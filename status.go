package ngrok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// apiTunnels mirrors the parts of GET /api/tunnels that we consume.
type apiTunnels struct {
	// nil when the key is missing, which is not the same as an empty list.
	Tunnels *[]apiTunnel `json:"tunnels"`
}

type apiTunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
	Config    struct {
		Addr string `json:"addr"`
	} `json:"config"`
}

// errNotReady marks an attempt that should be polled again.
var errNotReady = errors.New("status API not ready")

// statusClient queries ngrok's local inspection API.
type statusClient struct {
	url    string
	client *http.Client
}

func newStatusClient(statusURL string) *statusClient {
	return &statusClient{
		url: statusURL,
		// no client timeout: every request carries its own context deadline.
		client: &http.Client{},
	}
}

// fetch performs one GET. Transport failures and non-200 answers wrap
// errNotReady; a 200 with an undecodable body is a *ParseError.
func (c *statusClient) fetch(ctx context.Context) ([]apiTunnel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNotReady, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused by the next poll.
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", errNotReady, resp.Status)
	}
	var res apiTunnels
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, &ParseError{URL: c.url, Err: err}
	}
	if res.Tunnels == nil {
		return nil, &ParseError{URL: c.url, Err: errors.New(`response has no "tunnels" list`)}
	}
	return *res.Tunnels, nil
}

// matchPort returns the tunnels forwarding to the given local port, in the
// order ngrok listed them.
func matchPort(tunnels []apiTunnel, port int) []apiTunnel {
	var matched []apiTunnel
	for _, tun := range tunnels {
		if p, ok := addrPort(tun.Config.Addr); ok && p == port {
			matched = append(matched, tun)
		}
	}
	return matched
}

// addrPort extracts the port from the addr forms ngrok has reported over its
// versions: "http://localhost:3030", "localhost:3030" and "3030".
func addrPort(addr string) (int, bool) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return 0, false
	}
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return 0, false
		}
		addr = u.Host
	}
	if _, p, err := net.SplitHostPort(addr); err == nil {
		addr = p
	}
	port, err := strconv.Atoi(addr)
	if err != nil {
		return 0, false
	}
	return port, true
}

// publicURL parses a tunnel's public_url, which must be an absolute URL.
func (c *statusClient) publicURL(tun apiTunnel) (*url.URL, error) {
	if tun.PublicURL == "" {
		return nil, &ParseError{URL: c.url, Err: fmt.Errorf("tunnel %q has no public_url", tun.Name)}
	}
	u, err := url.Parse(tun.PublicURL)
	if err != nil {
		return nil, &ParseError{URL: c.url, Err: err}
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &ParseError{URL: c.url, Err: fmt.Errorf("public_url %q is not absolute", tun.PublicURL)}
	}
	return u, nil
}

// Tunnel is the public side of a running session.
type Tunnel struct {
	url *url.URL
}

// HTTP returns the public URL exactly as ngrok reported it.
func (t Tunnel) HTTP() *url.URL {
	u := *t.url
	return &u
}

// HTTPS returns the public URL with its scheme forced to https.
func (t Tunnel) HTTPS() *url.URL {
	u := *t.url
	u.Scheme = "https"
	return &u
}

func (t Tunnel) String() string {
	return t.url.String()
}
