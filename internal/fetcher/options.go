package fetcher

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds the whole exchange when Options.Timeout is unset.
	DefaultTimeout = 10000 * time.Millisecond
	// DefaultProxyHost is used when no proxy host is configured or found in the environment.
	DefaultProxyHost = "localhost"
	// DefaultProxyPort is used when no proxy port is configured or found in the environment.
	DefaultProxyPort = 3128
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "http-fetcher/1.0"
)

// ProxyType selects how the fetcher talks to the configured proxy.
type ProxyType string

const (
	// ProxyHTTP forwards through an HTTP proxy (CONNECT for https targets).
	ProxyHTTP ProxyType = "HTTP"
	// ProxySOCKS5 dials the target through a SOCKS5 proxy.
	ProxySOCKS5 ProxyType = "SOCKS5"
	// ProxySOCKS4 is accepted by name but not supported by the dialer.
	ProxySOCKS4 ProxyType = "SOCKS4"
)

// ParseProxyType parses a proxy type name case-insensitively. Empty means HTTP.
func ParseProxyType(s string) (ProxyType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(ProxyHTTP):
		return ProxyHTTP, nil
	case string(ProxySOCKS5):
		return ProxySOCKS5, nil
	case string(ProxySOCKS4):
		return "", eris.Errorf("proxy type %s is not supported", ProxySOCKS4)
	default:
		return "", eris.Errorf("unknown proxy type %q", s)
	}
}

// ProxyEndpoint is the proxy used for one target scheme.
type ProxyEndpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// ProxyOptions holds the per-scheme proxy endpoints. They are only consulted
// when the Configuration asks for the system proxy.
type ProxyOptions struct {
	Type  ProxyType
	HTTP  ProxyEndpoint
	HTTPS ProxyEndpoint
}

// Options are the host-level settings shared by every fetch of an HTTPFetcher.
type Options struct {
	Timeout time.Duration
	Proxy   ProxyOptions

	// TrustAll disables certificate chain and hostname verification. It exists
	// for compatibility with deployments that relied on the legacy behaviour.
	TrustAll bool

	// MaxBodySize caps the buffered body in bytes. Zero means unlimited.
	MaxBodySize int64

	// RateLimit caps requests per second issued by one fetcher. Zero means unlimited.
	RateLimit float64

	// Limiter, when set, is shared by every fetcher built with these options
	// and takes precedence over RateLimit.
	Limiter *rate.Limiter

	UserAgent string
}

// withDefaults returns a copy of o with zero values replaced by defaults.
func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Proxy.Type == "" {
		o.Proxy.Type = ProxyHTTP
	}
	o.Proxy.HTTP = o.Proxy.HTTP.withDefaults()
	o.Proxy.HTTPS = o.Proxy.HTTPS.withDefaults()
	return o
}

func (e ProxyEndpoint) withDefaults() ProxyEndpoint {
	if e.Host == "" {
		e.Host = DefaultProxyHost
	}
	if e.Port <= 0 {
		e.Port = DefaultProxyPort
	}
	return e
}

// Configuration describes what a single fetcher retrieves.
type Configuration struct {
	URL            string `json:"url" mapstructure:"url"`
	UseSystemProxy bool   `json:"useSystemProxy" mapstructure:"use_system_proxy"`
}
