// Package clients owns the four long-lived HTTP sessions the daemon makes
// all outbound calls through. Partitioning by traffic class keeps a burst of
// thumbnail fetches from starving the connection slots an API metadata call
// or a multi-gigabyte transfer needs.
package clients

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"assetbridge/config"
)

// Pool holds one pre-configured client per traffic class. Created once at
// startup, closed once at shutdown.
type Pool struct {
	// API serves short-lived JSON calls: search, ratings, comments,
	// profile, OAuth.
	API *http.Client
	// SmallThumb and FullThumb serve thumbnail image bodies.
	SmallThumb *http.Client
	FullThumb  *http.Client
	// Transfer serves long-lived bodies: asset file downloads and
	// signed-URL storage uploads. No overall timeout; cancellation comes
	// from the per-task context.
	Transfer *http.Client
}

func NewPool(cfg *config.Config) (*Pool, error) {
	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	proxy, err := buildProxy(cfg)
	if err != nil {
		return nil, err
	}

	transport := func(maxConns int) *http.Transport {
		return &http.Transport{
			Proxy: proxy,
			DialContext: (&net.Dialer{
				Timeout:   cfg.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:     tlsCfg,
			MaxIdleConns:        maxConns,
			MaxIdleConnsPerHost: maxConns,
			MaxConnsPerHost:     maxConns,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &Pool{
		API:        &http.Client{Transport: transport(10), Timeout: cfg.RequestTimeout},
		SmallThumb: &http.Client{Transport: transport(32), Timeout: cfg.RequestTimeout},
		FullThumb:  &http.Client{Transport: transport(8), Timeout: cfg.RequestTimeout},
		Transfer:   &http.Client{Transport: transport(4)},
	}, nil
}

// Close releases pooled connections. Safe to call once during shutdown.
func (p *Pool) Close() {
	for _, c := range []*http.Client{p.API, p.SmallThumb, p.FullThumb, p.Transfer} {
		if t, ok := c.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}

// buildTLSConfig resolves the trust source once for all four sessions.
func buildTLSConfig(cfg *config.Config) (*tls.Config, error) {
	switch cfg.TLSTrust {
	case "", "system":
		return &tls.Config{}, nil
	case "bundle":
		pool := x509.NewCertPool()
		if err := appendBundle(pool, cfg.CABundle); err != nil {
			return nil, err
		}
		return &tls.Config{RootCAs: pool}, nil
	case "both":
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if err := appendBundle(pool, cfg.CABundle); err != nil {
			return nil, err
		}
		return &tls.Config{RootCAs: pool}, nil
	default:
		return nil, fmt.Errorf("unknown TLS trust source %q", cfg.TLSTrust)
	}
}

func appendBundle(pool *x509.CertPool, path string) error {
	if path == "" {
		return fmt.Errorf("TLS trust requires a CA bundle but CA_BUNDLE is empty")
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read CA bundle: %w", err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return fmt.Errorf("CA bundle %s contains no usable certificates", path)
	}
	return nil
}

func buildProxy(cfg *config.Config) (func(*http.Request) (*url.URL, error), error) {
	switch cfg.ProxyMode {
	case "", "none":
		return nil, nil
	case "system":
		return http.ProxyFromEnvironment, nil
	case "custom":
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy address %q", cfg.ProxyURL)
		}
		return http.ProxyURL(u), nil
	default:
		return nil, fmt.Errorf("unknown proxy mode %q", cfg.ProxyMode)
	}
}
