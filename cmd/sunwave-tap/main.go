// Command sunwave-tap extracts Sunwave EMR data as a stream of JSON lines.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/sunwave-tap/pkg/auth"
	"github.com/Sternrassler/sunwave-tap/pkg/classify"
	"github.com/Sternrassler/sunwave-tap/pkg/client"
	"github.com/Sternrassler/sunwave-tap/pkg/config"
	"github.com/Sternrassler/sunwave-tap/pkg/logging"
	"github.com/Sternrassler/sunwave-tap/pkg/metrics"
	"github.com/Sternrassler/sunwave-tap/pkg/pagination"
	"github.com/Sternrassler/sunwave-tap/pkg/schema"
	"github.com/Sternrassler/sunwave-tap/pkg/state"
	"github.com/Sternrassler/sunwave-tap/pkg/stream"
	"github.com/Sternrassler/sunwave-tap/pkg/tap"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	statePath  string
	streams    []string
	body       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "sunwave-tap",
		Short: "Extract Sunwave EMR data",
		Long: `Extract users, forms, referrals, opportunities, opportunity timelines and
census entries from the Sunwave EMR API.

Settings come from a YAML or JSON config file and TAP_SUNWAVE_* environment
variables. Records, schemas and the final state are written to stdout as JSON
lines; logs go to stderr.`,
		Example: `  # Extract every stream
  sunwave-tap sync --config config.yaml

  # Resume from a previous run's state
  sunwave-tap sync --config config.yaml --state state.json > out.jsonl

  # Extract only opportunities and their timelines
  sunwave-tap sync --stream opportunity --stream opportunity_timeline`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (YAML or JSON)")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run an extraction",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}
	syncCmd.Flags().StringVar(&opts.statePath, "state", "", "State file from a previous run")
	syncCmd.Flags().StringSliceVar(&opts.streams, "stream", nil, "Stream to extract (repeatable, default: all)")

	streamsCmd := &cobra.Command{
		Use:   "streams",
		Short: "List the available streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStreams(cmd, opts)
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed Authorization header",
		Long:  "Print a Digest Authorization header for the configured credentials, for use with curl.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, opts)
		},
	}
	tokenCmd.Flags().StringVar(&opts.body, "body", "", "Request body to digest")

	root.AddCommand(syncCmd, streamsCmd, tokenCmd)
	return root
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if len(opts.streams) > 0 {
		cfg.Streams = opts.streams
	}
	return cfg, nil
}

func runSync(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := cfg.LogConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logger := logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds, err := cfg.Credentials()
	if err != nil {
		return err
	}
	startDate, err := cfg.StartTime(time.Now())
	if err != nil {
		return err
	}

	// Setup Redis
	var redisClient *redis.Client
	var store state.Store = state.NewMemoryStore()
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info().Str("addr", redisOpts.Addr).Msg("Connected to Redis")
		store = state.NewRedisStore(redisClient)
	}

	if opts.statePath != "" {
		values, err := readState(opts.statePath)
		if err != nil {
			return err
		}
		if err := state.Seed(ctx, store, values); err != nil {
			return fmt.Errorf("seed state: %w", err)
		}
	}

	clientCfg := client.DefaultConfig(creds)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.Redis = redisClient
	clientCfg.Timeout = cfg.HTTP.Timeout
	clientCfg.Retry = cfg.ClientRetry()

	sunwave, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer sunwave.Close()

	graph, err := stream.NewGraph(stream.Catalog(stream.CatalogOptions{
		ReferralStatuses: cfg.ReferralStatuses,
		CensusStatuses:   cfg.CensusStatuses,
	})...)
	if err != nil {
		return err
	}
	if err := graph.Select(cfg.Streams...); err != nil {
		return err
	}

	tapCfg := tap.Config{
		Graph:          graph,
		Client:         sunwave,
		Classifier:     classify.New(logging.NewLogger("classify"), cfg.SkipErrorsFor...),
		Store:          store,
		Sink:           tap.NewJSONLinesSink(cmd.OutOrStdout()),
		StartDate:      startDate,
		MaxConcurrency: cfg.MaxConcurrency,
		Pagination:     pagination.DefaultConfig(),
		Logger:         logging.NewLogger("tap"),
	}
	if cfg.SchemaPath != "" {
		src, err := schema.Load(cfg.SchemaPath)
		if err != nil {
			return err
		}
		tapCfg.Schemas = src
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           newMetricsMux(redisClient),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	t, err := tap.New(tapCfg)
	if err != nil {
		return err
	}

	report, err := t.Run(ctx)
	if report != nil {
		logReport(logger, report)
	}
	if err != nil {
		return err
	}
	return report.Err()
}

func logReport(logger zerolog.Logger, report *tap.Report) {
	for _, s := range report.Streams {
		event := logger.Info()
		if s.Err != nil {
			event = logger.Error().Err(s.Err)
		}
		event.
			Str("stream", s.Stream).
			Int("records", s.Records).
			Int("pages", s.Pages).
			Int("skipped", s.Skipped).
			Msg("Stream summary")
	}
}

// readState accepts either a STATE message or a bare bookmark map.
func readState(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var msg struct {
		Type  string            `json:"type"`
		Value map[string]string `json:"value"`
	}
	if err := json.Unmarshal(data, &msg); err == nil && msg.Type == tap.MessageState {
		return msg.Value, nil
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	return values, nil
}

func runStreams(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STREAM\tPARENT\tREPLICATION KEY\tPATH")
	for _, def := range stream.Catalog(stream.CatalogOptions{
		ReferralStatuses: cfg.ReferralStatuses,
		CensusStatuses:   cfg.CensusStatuses,
	}) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.Name, dash(def.Parent), dash(def.ReplicationKey), def.PathTemplate)
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runToken(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	creds, err := cfg.Credentials()
	if err != nil {
		return err
	}

	token, err := auth.NewSigner().Sign(creds, []byte(opts.body), time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token.Header())
	return nil
}

func newMetricsMux(redisClient *redis.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 while the shared Redis is unreachable.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}
