package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/apq"
	"github.com/always-cache/apq/cache"
	"github.com/always-cache/apq/pkg/content"
	"github.com/always-cache/apq/pkg/executor"
	"github.com/always-cache/apq/pkg/registry"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	contentDBFlag      string
	seedFlag           bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Config file (YAML)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&contentDBFlag, "content-db", "", "Node DB file name (overrides config, use 'memory' for in-memory db)")
	flag.BoolVar(&seedFlag, "seed", false, "Create example nodes on startup")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	config := defaultConfig()
	if configFilenameFlag != "" {
		var err error
		if config, err = getConfig(configFilenameFlag); err != nil {
			log.Fatal().Err(err).Str("file", configFilenameFlag).Msg("Could not read config")
		}
	}
	if portFlag != 0 {
		config.Listen = fmt.Sprintf(":%d", portFlag)
	}
	if contentDBFlag != "" {
		config.Content.DSN = contentDBFlag
		if contentDBFlag == "memory" {
			config.Content.DSN = ""
		}
	}
	if seedFlag {
		config.Content.Seed = true
	}

	reg, err := registry.Open(config.Registry)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open registry")
	}
	store, err := cache.Open(config.Cache)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache")
	}
	nodes, err := content.NewSQLiteStore(config.Content.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open node database")
	}
	if config.Content.Seed {
		if err := seed(context.Background(), nodes); err != nil {
			log.Fatal().Err(err).Msg("Could not create example nodes")
		}
	}

	opts := config.Protocol.options()
	a := apq.New(apq.Config{
		Registry:      reg,
		Cache:         store,
		OriginID:      config.Origin,
		Logger:        &log.Logger,
		Rules:         config.Rules,
		DefaultMaxAge: config.DefaultMaxAge,
		Contexts:      config.Contexts.resolver(),
		Metrics:       apq.NewMetrics("", prometheus.DefaultRegisterer),
		Options:       &opts,
	})

	log.Info().Msgf("Serving GraphQL on %s (registry '%s', cache '%s')", config.Listen, config.Registry.Backend, config.Cache.Backend)
	err = http.ListenAndServe(config.Listen, router(a, executor.New(nodes, log.Logger)))

	if err != nil {
		panic(err)
	}
}

func router(a *apq.APQ, exec http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	graphql := a.Middleware(exec)
	r.Method(http.MethodGet, "/graphql", graphql)
	r.Method(http.MethodPost, "/graphql", graphql)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/_cache/invalidate", invalidateHandler(a))
	return r
}

type invalidateRequest struct {
	Tags []string `json:"tags"`
}

// invalidateHandler removes stored responses by tag,
// e.g. `{"tags": ["node:1"]}`.
func invalidateHandler(a *apq.APQ) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body invalidateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Tags) == 0 {
			http.Error(w, "expected a JSON object with tags", http.StatusBadRequest)
			return
		}
		n, err := a.InvalidateTags(r.Context(), body.Tags...)
		if err != nil {
			log.Error().Err(err).Msg("Could not invalidate tags")
			http.Error(w, "could not invalidate", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"invalidated": n})
	}
}

func seed(ctx context.Context, nodes content.Store) error {
	for _, node := range []content.Node{
		{ID: 1, Type: "article", Title: "Test Article 1", Published: true},
		{ID: 2, Type: "article", Title: "Test Article 2", Published: true},
		{ID: 3, Type: "page", Title: "Test Page 1", Published: true},
	} {
		if err := nodes.Save(ctx, node); err != nil {
			return err
		}
	}
	return nil
}
