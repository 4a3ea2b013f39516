package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/http-fetcher/internal/fetcher"
)

// fetchRequest carries the per-invocation settings of the fetch command.
type fetchRequest struct {
	Output      string
	OutputDir   string
	SystemProxy bool
	Concurrency int
}

var (
	fetchReq       fetchRequest
	fetchTimeoutMs int
	fetchTrustAll  bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url> [url...]",
	Short: "Fetch the content at one or more URLs",
	Long:  "Performs one GET per URL. A single URL is written to stdout or --output; several URLs require --output-dir.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		opts := cfg.HTTPClient.FetcherOptions()
		if fetchTimeoutMs > 0 {
			opts.Timeout = time.Duration(fetchTimeoutMs) * time.Millisecond
		}
		if fetchTrustAll {
			opts.TrustAll = true
		}

		return runFetch(cmd.Context(), args, opts, fetchReq, cmd.OutOrStdout())
	},
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchReq.Output, "output", "o", "", "write the body to this file instead of stdout")
	fetchCmd.Flags().StringVar(&fetchReq.OutputDir, "output-dir", "", "write each body to a file in this directory")
	fetchCmd.Flags().BoolVar(&fetchReq.SystemProxy, "system-proxy", false, "route requests through the configured system proxy")
	fetchCmd.Flags().IntVar(&fetchReq.Concurrency, "concurrency", 4, "max concurrent fetches with --output-dir")
	fetchCmd.Flags().IntVar(&fetchTimeoutMs, "timeout", 0, "fetch timeout in milliseconds (default from config)")
	fetchCmd.Flags().BoolVar(&fetchTrustAll, "trust-all", false, "skip TLS certificate verification (legacy behaviour)")
	rootCmd.AddCommand(fetchCmd)
}

// runFetch fetches urls with opts. With no output directory exactly one URL is
// allowed and its body goes to req.Output or stdout.
func runFetch(ctx context.Context, urls []string, opts fetcher.Options, req fetchRequest, stdout io.Writer) error {
	if req.OutputDir == "" {
		if len(urls) != 1 {
			return eris.New("fetch: several urls require --output-dir")
		}
		return fetchOne(ctx, urls[0], opts, req, stdout)
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return eris.Wrap(err, "fetch: create output dir")
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("fetching urls",
		zap.Int("urls", len(urls)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	names := outputNames(urls)

	var succeeded, failed atomic.Int64
	for i, rawURL := range urls {
		path := filepath.Join(req.OutputDir, names[i])
		g.Go(func() error {
			log := zap.L().With(zap.String("url", rawURL))

			n, err := fetchToFile(gctx, rawURL, opts, req.SystemProxy, path)
			if err != nil {
				failed.Add(1)
				log.Error("fetch failed", zap.Error(err))
				return nil // one failure must not cancel the others
			}

			succeeded.Add(1)
			log.Info("fetch written", zap.String("path", path), zap.Int64("bytes", n))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "fetch")
	}

	zap.L().Info("fetch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	if failed.Load() > 0 {
		return eris.Errorf("fetch: %d of %d urls failed", failed.Load(), len(urls))
	}
	return nil
}

func fetchOne(ctx context.Context, rawURL string, opts fetcher.Options, req fetchRequest, stdout io.Writer) error {
	if req.Output != "" {
		_, err := fetchToFile(ctx, rawURL, opts, req.SystemProxy, req.Output)
		return err
	}

	res, err := fetcher.Fetch(ctx, fetcher.Configuration{URL: rawURL, UseSystemProxy: req.SystemProxy}, opts)
	if err != nil {
		return err
	}
	defer res.Content.Close() //nolint:errcheck

	if _, err := io.Copy(stdout, res.Content); err != nil {
		return eris.Wrap(err, "fetch: write output")
	}
	return nil
}

// fetchToFile fetches rawURL and writes the body to path. Nothing is created
// when the fetch fails.
func fetchToFile(ctx context.Context, rawURL string, opts fetcher.Options, systemProxy bool, path string) (int64, error) {
	res, err := fetcher.Fetch(ctx, fetcher.Configuration{URL: rawURL, UseSystemProxy: systemProxy}, opts)
	if err != nil {
		return 0, err
	}
	defer res.Content.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}

	n, err := io.Copy(file, res.Content)
	if err != nil {
		_ = file.Close()
		return n, eris.Wrap(err, "write file")
	}
	if err := file.Close(); err != nil {
		return n, eris.Wrap(err, "close file")
	}
	return n, nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// outputName derives a file name from host, path and query, e.g.
// http://example.test/api/v1.json?v=2 -> example.test_api_v1.json_v_2.
func outputName(rawURL string) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		name = u.Host + u.Path
		if u.RawQuery != "" {
			name += "_" + u.RawQuery
		}
	}
	name = strings.Trim(unsafeNameChars.ReplaceAllString(name, "_"), "_.")
	if name == "" {
		return "index"
	}
	return name
}

// outputNames assigns every URL its own file name. Names that collide after
// sanitizing, including repeated URLs, get a numeric suffix in argument order.
func outputNames(urls []string) []string {
	names := make([]string, len(urls))
	used := make(map[string]bool, len(urls))
	for i, rawURL := range urls {
		name := outputName(rawURL)
		if used[name] {
			ext := filepath.Ext(name)
			base := strings.TrimSuffix(name, ext)
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s-%d%s", base, n, ext)
				if !used[candidate] {
					name = candidate
					break
				}
			}
		}
		used[name] = true
		names[i] = name
	}
	return names
}
