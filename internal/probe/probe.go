// Package probe holds the five check strategies. Each is a blocking call
// that takes a target URL and returns an opaque result payload; the
// orchestrator never inspects payload shapes beyond the summary filters.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/webcheckup/webcheckup/internal/domain/checkup"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

// Prober is the interface every check strategy satisfies.
type Prober interface {
	// Run performs the check against the target URL. It enforces its own
	// timeouts; failures come back as errors, never panics.
	Run(ctx context.Context, target string) (map[string]any, error)

	// Type reports which check type this strategy implements.
	Type() checkup.CheckType
}

// Registry maps check types to their strategies.
type Registry struct {
	probes map[checkup.CheckType]Prober
}

// NewRegistry builds a registry from the given strategies.
func NewRegistry(probes ...Prober) *Registry {
	r := &Registry{probes: make(map[checkup.CheckType]Prober, len(probes))}
	for _, p := range probes {
		r.probes[p.Type()] = p
	}
	return r
}

// DefaultRegistry wires the production strategies.
func DefaultRegistry(cfg Config) *Registry {
	return NewRegistry(
		NewPortScan(),
		NewLighthouse(cfg.LighthouseBinary, cfg.InContainer),
		NewTechnologies(),
		NewCookieScanner(cfg.CookieScannerURL),
		NewNetwork(cfg.ToolboxAPIKey, cfg.ToolboxBaseURL),
	)
}

// Config carries the external endpoints and credentials probes need.
type Config struct {
	LighthouseBinary string
	InContainer      bool
	CookieScannerURL string
	ToolboxAPIKey    string
	ToolboxBaseURL   string
}

// For returns the strategy registered for a check type.
func (r *Registry) For(t checkup.CheckType) (Prober, error) {
	p, ok := r.probes[t]
	if !ok {
		return nil, sharedErrors.ErrInvalidCheckType
	}
	return p, nil
}

// ExtractHost pulls the hostname out of a target URL. Bare hostnames pass
// through unchanged.
func ExtractHost(target string) string {
	t := strings.TrimSpace(target)
	if t == "" {
		return ""
	}
	if !strings.Contains(t, "://") {
		t = "https://" + t
	}
	u, err := url.Parse(t)
	if err != nil || u.Hostname() == "" {
		host := strings.TrimSpace(target)
		if i := strings.IndexAny(host, "/:"); i >= 0 {
			host = host[:i]
		}
		return host
	}
	return u.Hostname()
}

// lookupIP is swappable for tests.
var lookupIP = net.DefaultResolver.LookupIP

// resolveIPv4 returns the host's first IPv4 address. Resolution that
// succeeds with no addresses is its own failure, distinct from a resolver
// error.
func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	ips, err := lookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve %s: no A records", host)
	}
	return ips[0], nil
}

// BaseURL returns scheme://host[:port] for a target URL.
func BaseURL(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return target
	}
	return u.Scheme + "://" + u.Host
}
