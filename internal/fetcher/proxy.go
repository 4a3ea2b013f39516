package fetcher

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/net/proxy"
)

// proxyFor returns the endpoint matching the target scheme, or nil when the
// system proxy is not in use.
func proxyFor(cfg Configuration, opts ProxyOptions, t target) *ProxyEndpoint {
	if !cfg.UseSystemProxy {
		return nil
	}
	if t.secure {
		ep := opts.HTTPS
		return &ep
	}
	ep := opts.HTTP
	return &ep
}

// proxyURL builds the proxy URL for ep, carrying credentials when a username is set.
func proxyURL(typ ProxyType, ep ProxyEndpoint) *url.URL {
	scheme := "http"
	if typ == ProxySOCKS5 {
		scheme = "socks5"
	}
	u := &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)),
	}
	if ep.Username != "" {
		u.User = url.UserPassword(ep.Username, ep.Password)
	}
	return u
}

// newTransport builds a single-use transport: one connection, no keep-alive,
// every phase bounded by timeout.
func newTransport(opts Options, typ ProxyType, ep *ProxyEndpoint) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: -1,
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          1,
		MaxIdleConnsPerHost:   1,
		MaxConnsPerHost:       1,
		DisableKeepAlives:     true,
		IdleConnTimeout:       opts.Timeout,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		ExpectContinueTimeout: time.Second,
	}
	if opts.TrustAll {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	if ep == nil {
		return transport, nil
	}

	switch typ {
	case ProxySOCKS5:
		var auth *proxy.Auth
		if ep.Username != "" {
			auth = &proxy.Auth{User: ep.Username, Password: ep.Password}
		}
		addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
		d, err := proxy.SOCKS5("tcp", addr, auth, dialer)
		if err != nil {
			return nil, eris.Wrap(err, "socks5 dialer")
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, eris.New("socks5 dialer does not support contexts")
		}
		transport.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
			return cd.DialContext(ctx, network, address)
		}
	default:
		transport.Proxy = http.ProxyURL(proxyURL(typ, *ep))
	}

	return transport, nil
}
