package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/example/lean-prover/internal/agents"
	"github.com/example/lean-prover/internal/api"
	"github.com/example/lean-prover/internal/config"
	"github.com/example/lean-prover/internal/metrics"
	"github.com/example/lean-prover/internal/models"
	"github.com/example/lean-prover/internal/orchestrator"
	"github.com/example/lean-prover/internal/providers/llm"
	"github.com/example/lean-prover/internal/store"
	"github.com/example/lean-prover/internal/stream"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "lean-prover",
		Short:         "Generate Lean 4 proofs and check them with the Lean toolchain",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to a YAML config file (optional)")
	root.AddCommand(newServeCmd(&configPath), newProveCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the streaming proof API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newProveCmd(configPath *string) *cobra.Command {
	var statement, mode string
	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Prove one statement and print the event stream as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(statement) == "" {
				return errors.New("--statement is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return proveOnce(ctx, cfg, statement, mode, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&statement, "statement", "s", "", "natural-language statement to prove")
	cmd.Flags().StringVarP(&mode, "mode", "m", api.ModeVerify, "verify or draft")
	return cmd
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	// stdout belongs to the prove command's event stream
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// app is the wired object graph shared by both commands.
type app struct {
	server *api.Server
	store  *store.SQLiteStore
	client llm.Client
	logger *zap.Logger
}

func build(ctx context.Context, cfg config.Config, withRuntime bool) (*app, error) {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	m := metrics.New(withRuntime)

	client, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	caller := llm.NewResilient(llm.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		ConnectionBase: cfg.Retry.ConnectionBackoff,
		RateLimitBase:  cfg.Retry.RateLimitBackoff,
	}, logger.Named("llm"))
	caller.OnRetry = func(kind llm.Kind, attempt int, delay time.Duration) {
		m.RecordRetry(string(kind), attempt, delay)
	}
	prover := agents.NewProver(client, caller, cfg.LLM.Temperature, cfg.LLM.MaxTokens, logger.Named("prover"))
	verifier := agents.NewLeanVerifier(cfg.Lean.Command, cfg.Lean.WorkDir, cfg.Lean.Timeout,
		cfg.Lean.ProbeTimeout, int64(cfg.Lean.MaxOutputBytes), logger.Named("lean"))

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		closeClient(client)
		return nil, err
	}

	srv := &api.Server{
		Processor:   orchestrator.New(prover, verifier, cfg.Lean.MaxAttempts, logger.Named("orchestrator"), m),
		Drafter:     prover,
		Encoder:     stream.NewEncoder(cfg.Stream.HeartbeatEvery, cfg.Stream.ChunkThreshold, cfg.Stream.Pacing, logger.Named("stream"), m),
		Store:       st,
		Metrics:     m,
		Logger:      logger.Named("api"),
		RecentLimit: cfg.Store.RecentLimit,
	}
	logger.Info("prover configured",
		zap.String("provider", client.Name()),
		zap.Strings("lean_command", cfg.Lean.Command),
		zap.Int("max_attempts", cfg.Lean.MaxAttempts),
		zap.String("store", st.Path()))
	return &app{server: srv, store: st, client: client, logger: logger}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
	closeClient(a.client)
	_ = a.logger.Sync()
}

func closeClient(c llm.Client) {
	if closer, ok := c.(io.Closer); ok {
		_ = closer.Close()
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := build(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	mux := http.NewServeMux()
	a.server.RegisterRoutes(mux)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           cors(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// jsonLines writes one event per line.
type jsonLines struct{ enc *json.Encoder }

func (j jsonLines) Send(ev models.StreamEvent) error { return j.enc.Encode(ev) }

func proveOnce(ctx context.Context, cfg config.Config, statement, mode string, out io.Writer) error {
	a, err := build(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	producer, err := a.server.Producer(mode, statement)
	if err != nil {
		return err
	}
	sess, err := a.store.Create(ctx, statement, "")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	transcript, err := a.server.Encoder.Run(ctx, jsonLines{enc: enc}, producer)
	if err != nil {
		return err
	}
	if err := a.store.Finalize(context.WithoutCancel(ctx), sess.ID, transcript.String()); err != nil {
		return err
	}
	if !transcript.Succeeded() {
		return errors.New("proof not found")
	}
	return nil
}

// simple CORS middleware for local dev
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "X-Session-ID, X-Run-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
