package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vango-dev/stan/internal/errors"
	"github.com/vango-dev/stan/internal/scenario"
	"github.com/vango-dev/stan/pkg/stan"
)

func serveCmd(opts *globalOptions) *cobra.Command {
	var (
		port  int
		host  string
		steps bool
	)

	cmd := &cobra.Command{
		Use:   "serve <scenario.json>",
		Short: "Serve a scenario graph over HTTP",
		Long: `Build the atom graph of a scenario and keep it alive behind an
HTTP inspection API:

  GET  /states         JSON snapshot of every materialized state
  GET  /atoms/{cell}   value of a cell ("name" or "family/key")
  POST /atoms/{cell}   set a cell from a JSON body
  GET  /metrics        Prometheus metrics
  GET  /healthz        liveness probe`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Serve.Port = port
			}
			if host != "" {
				cfg.Serve.Host = host
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			s, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			g, err := s.Build(scenario.WithDefaultEngine(cfg.Formula.Engine))
			if err != nil {
				return err
			}

			promReg := prometheus.NewRegistry()
			promReg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			r := newRegistry(cfg, logger, promReg)
			defer r.Close()

			if steps {
				runner := scenario.NewRunner(g, r, logger, cmd.OutOrStdout())
				defer runner.Close()
				if err := runner.Run(cmd.Context()); err != nil {
					return errors.FromStan(err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := newServer(g, r, promReg, logger)
			srv.metrics = newHTTPMetrics(promReg, cfg.Metrics.Namespace)
			out := cmd.OutOrStdout()
			success(out, "Serving %s on http://%s", args[0], cfg.ServeAddress())
			info(out, "registry %s", r.ID())
			return srv.listen(ctx, cfg.ServeAddress())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from stan.json)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from stan.json)")
	cmd.Flags().BoolVar(&steps, "run-steps", false, "Run the scenario steps before serving")

	return cmd
}

// server exposes one registry over HTTP.
type server struct {
	graph    *scenario.Graph
	registry *stan.Registry
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	metrics  *httpMetrics
}

func newServer(g *scenario.Graph, r *stan.Registry, gatherer prometheus.Gatherer, logger *slog.Logger) *server {
	return &server{graph: g, registry: r, gatherer: gatherer, logger: logger}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if s.metrics != nil {
		r.Use(s.metrics.middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/states", s.handleStates)
	r.Get("/atoms/*", s.handleGet)
	r.Post("/atoms/*", s.handleSet)
	return r
}

func (s *server) listen(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New("S020").Wrap(err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		s.logger.Debug("http request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

type cellResponse struct {
	Cell  string `json:"cell"`
	Value any    `json:"value"`
}

func (s *server) handleStates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

func (s *server) handleGet(w http.ResponseWriter, req *http.Request) {
	ref := chi.URLParam(req, "*")
	d, err := s.graph.Descriptor(ref)
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := stan.GetAsync(s.registry, d).Await(req.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cellResponse{Cell: ref, Value: v})
}

func (s *server) handleSet(w http.ResponseWriter, req *http.Request) {
	ref := chi.URLParam(req, "*")
	d, err := s.graph.Descriptor(ref)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var value any
	if err := json.NewDecoder(req.Body).Decode(&value); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("invalid JSON body: %v", err),
		})
		return
	}
	if err := stan.Set(s.registry, d, value); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cellResponse{Cell: ref, Value: value})
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	se := errors.FromStan(err)
	status := http.StatusInternalServerError
	switch se.Code {
	case "S012":
		status = http.StatusNotFound
	case "S002":
		status = http.StatusMethodNotAllowed
	case "S004":
		status = http.StatusBadRequest
	case "S005":
		status = http.StatusServiceUnavailable
	}
	s.logger.Debug("request failed", "code", se.Code, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(se.FormatJSON()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
