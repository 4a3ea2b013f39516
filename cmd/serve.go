package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/http-fetcher/internal/fetcher"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fetched content over HTTP",
	Long: `Serves GET /v1/fetch?url=... which fetches any http or https URL on behalf of
the caller. The endpoint has no authentication and can reach every host the
server can, including internal ones; only expose it on a trusted network.
Cross-origin browser access is off unless server.cors_origins lists origins.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(cfg.HTTPClient.FetcherOptions(), cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the fetch API. Every request builds its own fetcher from
// opts, so a limiter in opts is the only state shared between requests.
func newRouter(opts fetcher.Options, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	// An empty origin list means all origins to go-chi/cors, so skip it.
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			ExposedHeaders: []string{"X-Fetch-ID"},
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/v1/fetch", fetchHandler(opts))

	return r
}

type fetchErrorBody struct {
	Error          string `json:"error"`
	Kind           string `json:"kind"`
	URL            string `json:"url"`
	FetchID        string `json:"fetch_id"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
	Timeout        bool   `json:"timeout,omitempty"`
}

func fetchHandler(opts fetcher.Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Fetch-ID", id)

		q := r.URL.Query()
		fc := fetcher.Configuration{URL: q.Get("url")}
		if v := q.Get("system_proxy"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, fetchErrorBody{
					Error:   "system_proxy must be a boolean",
					Kind:    fetcher.KindConfiguration.String(),
					URL:     fc.URL,
					FetchID: id,
				})
				return
			}
			fc.UseSystemProxy = b
		}

		log := zap.L().With(
			zap.String("fetch_id", id),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)

		res, err := fetcher.Fetch(r.Context(), fc, opts)
		if err != nil {
			status, body := fetchErrorResponse(err)
			body.FetchID = id
			if body.URL == "" {
				body.URL = fc.URL
			}
			log.Warn("fetch request failed", zap.Int("status", status), zap.Error(err))
			writeJSON(w, status, body)
			return
		}
		defer res.Content.Close() //nolint:errcheck

		ct := res.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, res.Content); err != nil {
			log.Debug("write fetched content", zap.Error(err))
		}
	}
}

// fetchErrorResponse maps a fetch failure to an HTTP status and JSON body.
func fetchErrorResponse(err error) (int, fetchErrorBody) {
	body := fetchErrorBody{Error: err.Error()}

	var fe *fetcher.Error
	if !errors.As(err, &fe) {
		body.Kind = "internal"
		return http.StatusInternalServerError, body
	}

	body.Kind = fe.Kind.String()
	body.URL = fe.URL
	switch fe.Kind {
	case fetcher.KindConfiguration:
		return http.StatusBadRequest, body
	case fetcher.KindNoContent:
		body.UpstreamStatus = fe.StatusCode
		return http.StatusNotFound, body
	default:
		if fe.Timeout() {
			body.Timeout = true
			return http.StatusGatewayTimeout, body
		}
		return http.StatusBadGateway, body
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
