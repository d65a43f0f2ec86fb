// Package tunneler holds the types shared by anything that exposes a local
// port on a public URL.
package tunneler

import (
	"context"
	"net/url"
)

// Interface represents a running tunnel.
type Interface interface {
	// HTTP waits for the tunnel to come up and returns its public URL.
	HTTP(ctx context.Context) (*url.URL, error)
	// Endpoints returns every public URL forwarding to the local port.
	Endpoints(ctx context.Context) ([]Endpoint, error)
	// Close method closes the tunnel and cleans up all associated resources
	Close() error
}

// Endpoint represents a publicly accessible URL that tunnels to your machine
type Endpoint struct {
	URL    *url.URL
	Secure bool
}

// FindSecure returns the first https endpoint.
func FindSecure(endpoints []Endpoint) (Endpoint, bool) {
	for _, ep := range endpoints {
		if ep.Secure {
			return ep, true
		}
	}
	return Endpoint{}, false
}
