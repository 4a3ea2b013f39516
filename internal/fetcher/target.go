package fetcher

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// target is the resolved connection parameters for one URL. raw is the URL as
// given with any userinfo removed; it is what errors and logs carry.
type target struct {
	raw        string
	url        *url.URL
	scheme     string
	host       string
	port       int
	requestURI string
	secure     bool
}

// address returns host:port with the scheme default filled in.
func (t target) address() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

// resolveTarget parses rawURL into connection parameters. It performs no I/O.
func resolveTarget(rawURL string) (target, error) {
	if strings.TrimSpace(rawURL) == "" {
		return target{}, eris.New("url is required")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return target{}, eris.Wrap(err, "parse url")
	}
	shown := rawURL
	if u.User != nil {
		u = stripUserinfo(u)
		shown = u.String()
	}
	if u.Scheme == "" || u.Host == "" {
		return target{}, eris.Errorf("url %q is not absolute", shown)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != schemeHTTP && scheme != schemeHTTPS {
		return target{}, eris.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return target{}, eris.Errorf("url %q has no host", shown)
	}

	secure := strings.EqualFold(scheme, schemeHTTPS)
	port := 80
	if secure {
		port = 443
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return target{}, eris.Errorf("invalid port %q", p)
		}
		port = n
	}

	requestURI := u.EscapedPath()
	if requestURI == "" {
		requestURI = "/"
	}
	if u.RawQuery != "" {
		requestURI += "?" + u.RawQuery
	}

	return target{
		raw:        shown,
		url:        u,
		scheme:     scheme,
		host:       u.Hostname(),
		port:       port,
		requestURI: requestURI,
		secure:     secure,
	}, nil
}

// stripUserinfo returns a copy of u without credentials. Credentials in the
// target URL are never sent and never reported.
func stripUserinfo(u *url.URL) *url.URL {
	c := *u
	c.User = nil
	return &c
}

// redactURL removes userinfo from rawURL when it parses; otherwise rawURL is
// returned as is.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	return stripUserinfo(u).String()
}
