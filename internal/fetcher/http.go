package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPFetcher implements Fetcher with exactly one GET per call. Every call
// builds and owns its transport, so concurrent calls share nothing but the
// optional rate limiter.
type HTTPFetcher struct {
	opts    Options
	target  target
	proxy   *ProxyEndpoint
	limiter *rate.Limiter

	// onRelease runs once per fetch after its resources are released.
	onRelease func()
}

// NewHTTPFetcher validates cfg and resolves its target. A malformed URL or
// proxy type fails here with a configuration error, before any network I/O.
func NewHTTPFetcher(cfg Configuration, opts Options) (*HTTPFetcher, error) {
	t, err := resolveTarget(cfg.URL)
	if err != nil {
		return nil, configurationError(redactURL(cfg.URL), err)
	}

	opts = opts.withDefaults()
	typ, err := ParseProxyType(string(opts.Proxy.Type))
	if err != nil {
		return nil, configurationError(t.raw, err)
	}
	opts.Proxy.Type = typ

	f := &HTTPFetcher{
		opts:    opts,
		target:  t,
		proxy:   proxyFor(cfg, opts.Proxy, t),
		limiter: opts.Limiter,
	}
	if f.limiter == nil && opts.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return f, nil
}

// Fetch builds a fetcher for cfg and performs a single fetch.
func Fetch(ctx context.Context, cfg Configuration, opts Options) (*Resource, error) {
	f, err := NewHTTPFetcher(cfg, opts)
	if err != nil {
		return nil, err
	}
	return f.Fetch(ctx)
}

// URL returns the configured URL without userinfo.
func (f *HTTPFetcher) URL() string {
	return f.target.raw
}

type outcome struct {
	state  State
	status int
	res    *Resource
	err    error
}

// Fetch performs the GET and blocks until it completes or the timeout
// expires. On expiry the in-flight request is aborted.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*Resource, error) {
	start := time.Now()
	log := zap.L().With(zap.String("url", f.target.raw))

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			log.Warn("fetch rate limited past deadline", zap.Error(err))
			return nil, transportError(f.target.raw, err, "rate limiter wait")
		}
	}

	transport, err := newTransport(f.opts, f.opts.Proxy.Type, f.proxy)
	if err != nil {
		return nil, transportError(f.target.raw, err, "build transport")
	}
	rel := &release{transport: transport, hook: f.onRelease}
	defer rel.run()

	log.Debug("fetch started",
		zap.Stringer("state", StateInFlight),
		zap.String("address", f.target.address()),
		zap.Bool("tls", f.target.secure),
		zap.Bool("proxy", f.proxy != nil),
	)

	done := make(chan outcome, 1)
	go func() {
		done <- f.exchange(ctx, transport, rel)
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		cancel()
		out = outcome{
			state: StateFailed,
			err:   transportError(f.target.raw, ctx.Err(), "http get"),
		}
	}
	rel.run()

	elapsed := time.Since(start)
	switch out.state {
	case StateCompletedOK:
		log.Info("fetch complete",
			zap.Int("status", out.status),
			zap.Int64("bytes", out.res.Size),
			zap.Duration("duration", elapsed),
		)
	case StateCompletedNoContent:
		log.Warn("fetch returned no content",
			zap.Int("status", out.status),
			zap.Duration("duration", elapsed),
		)
	default:
		log.Warn("fetch failed",
			zap.Error(out.err),
			zap.Bool("timeout", IsTimeout(out.err)),
			zap.Duration("duration", elapsed),
		)
	}

	return out.res, out.err
}

// exchange issues the request and reads the body. Redirects are not followed:
// a 3xx is a response like any other non-200.
func (f *HTTPFetcher) exchange(ctx context.Context, transport *http.Transport, rel *release) outcome {
	raw := f.target.raw

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.target.url.String(), nil)
	if err != nil {
		return outcome{state: StateFailed, err: configurationError(raw, eris.Wrap(err, "create request"))}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return outcome{state: StateFailed, err: transportError(raw, err, "http get")}
	}
	rel.attach(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return outcome{
			state:  StateCompletedNoContent,
			status: resp.StatusCode,
			err:    noContentError(raw, resp.StatusCode),
		}
	}

	body, err := readBody(resp.Body, f.opts.MaxBodySize)
	if err != nil {
		return outcome{state: StateFailed, status: resp.StatusCode, err: transportError(raw, err, "read body")}
	}

	return outcome{
		state:  StateCompletedOK,
		status: resp.StatusCode,
		res: &Resource{
			URL:         raw,
			ContentType: resp.Header.Get("Content-Type"),
			Size:        int64(len(body)),
			Content:     io.NopCloser(bytes.NewReader(body)),
		},
	}
}

func readBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, eris.Errorf("response body exceeds %d bytes", limit)
	}
	return b, nil
}

// release frees the per-call resources exactly once. A body attached after
// release is closed immediately. Close errors are logged and dropped so they
// never replace the fetch outcome.
type release struct {
	mu        sync.Mutex
	released  bool
	body      io.Closer
	transport *http.Transport
	hook      func()
}

func (r *release) attach(body io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		_ = body.Close()
		return
	}
	r.body = body
}

func (r *release) run() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true

	if r.body != nil {
		if err := r.body.Close(); err != nil {
			zap.L().Debug("close response body", zap.Error(err))
		}
	}
	r.transport.CloseIdleConnections()
	if r.hook != nil {
		r.hook()
	}
}
