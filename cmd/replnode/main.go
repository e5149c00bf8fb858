package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/replsetd/replsetd/pkg/catalog"
	"github.com/replsetd/replsetd/pkg/config"
	"github.com/replsetd/replsetd/pkg/repl"
	"github.com/replsetd/replsetd/pkg/rlog"
	"github.com/replsetd/replsetd/pkg/rpc"
	"github.com/replsetd/replsetd/pkg/storageengine/boltengine"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

const (
	coordinatorShutdownGrace = 10 * time.Second
	stepDownWaitTime         = 5 * time.Second
	stepDownGrace            = 60 * time.Second
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "replnode",
	Short:   "replnode runs a single replica-set node",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("replnode version %s\ncommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs as JSON")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	rlog.Init(rlog.Config{Level: rlog.Level(level), JSONOutput: jsonOut})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the node",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("set-name", "", "replica set name")
	serveCmd.Flags().String("listen-addr", "127.0.0.1:27017", "address for replication RPC traffic")
	serveCmd.Flags().String("control-addr", "127.0.0.1:27018", "address for the read-only local control socket")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address for /health, /ready, /metrics")
	serveCmd.Flags().String("data-dir", "./replsetd-data", "data directory")
	serveCmd.Flags().StringSlice("seeds", nil, "seed host:port list to probe at bootstrap")
	serveCmd.Flags().String("replication-mode", "replset", "replication mode: replset, masterslave, none")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if err := config.Load(&cfg); err != nil {
		return err
	}
	overlayFlags(cmd, &cfg)

	logger := rlog.WithComponent("replnode")
	mode, err := parseReplicationMode(cfg.ReplicationMode)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("replnode: create data dir: %w", err)
	}

	engine, err := boltengine.Open(filepath.Join(cfg.DataDir, "replsetd.db"))
	if err != nil {
		return fmt.Errorf("replnode: open storage engine: %w", err)
	}
	defer engine.Close()

	catalogStore, err := catalog.OpenCatalogRecordStore(engine.DB())
	if err != nil {
		return fmt.Errorf("replnode: open catalog store: %w", err)
	}
	ns, err := catalog.OpenNamespace(catalogStore)
	if err != nil {
		return fmt.Errorf("replnode: open namespace catalog: %w", err)
	}
	_ = catalog.NewDatabase(ns, catalogStore, engine)

	ext := repl.NewInProcessExternalState()
	transport := rpc.NewTransport()
	defer transport.Close()

	coordinator := repl.NewCoordinator(ext, transport, mode)
	defer coordinator.Shutdown()

	if cfg.SetName != "" && len(cfg.Seeds) > 0 {
		members := make([]repl.MemberConfig, 0, len(cfg.Seeds)+1)
		members = append(members, repl.MemberConfig{ID: 0, Host: cfg.ListenAddr, VoteWeight: 1, Priority: 1})
		for i, seed := range cfg.Seeds {
			members = append(members, repl.MemberConfig{ID: i + 1, Host: seed, VoteWeight: 1, Priority: 1})
		}
		initCfg := repl.Config{Version: 1, SetName: cfg.SetName, Members: members, SelfIndex: 0}
		if err := coordinator.ProcessReplSetInitiate(initCfg); err != nil {
			logger.Warn().Err(err).Msg("replSetInitiate failed, node will wait for an external initiate")
		}
	}

	// The replication server carries inherently mutating peer-to-peer traffic
	// (heartbeats, vote requests, position updates) and must never sit behind
	// ReadOnlyInterceptor.
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&rpc.ReplicationServiceDesc, &rpc.ReplicationService{Coordinator: coordinator})

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("replnode: listen on %s: %w", cfg.ListenAddr, err)
	}

	// The control server is local-only and read-only: status queries from the
	// node's own CLI/tooling, guarded by ReadOnlyInterceptor.
	controlServer := grpc.NewServer(grpc.UnaryInterceptor(rpc.ReadOnlyInterceptor()))
	controlServer.RegisterService(&rpc.StatusServiceDesc, &rpc.StatusService{Coordinator: coordinator})

	controlListener, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("replnode: listen on %s: %w", cfg.ControlAddr, err)
	}

	errCh := make(chan error, 3)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("replication RPC listening")
		if err := grpcServer.Serve(listener); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.ControlAddr).Msg("control socket listening")
		if err := controlServer.Serve(controlListener); err != nil {
			errCh <- fmt.Errorf("control grpc serve: %w", err)
		}
	}()

	health := rpc.NewHealthServer(coordinator)
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("health/metrics listening")
		if err := health.Start(cfg.MetricsAddr); err != nil {
			errCh <- fmt.Errorf("health serve: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), coordinatorShutdownGrace)
	defer cancel()
	_ = coordinator.StepDown(ctx, true, stepDownWaitTime, stepDownGrace)

	controlServer.GracefulStop()
	grpcServer.GracefulStop()
	return nil
}

func overlayFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("set-name"); v != "" {
		cfg.SetName = v
	}
	if v, _ := cmd.Flags().GetString("listen-addr"); cmd.Flags().Changed("listen-addr") {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("control-addr"); cmd.Flags().Changed("control-addr") {
		cfg.ControlAddr = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); cmd.Flags().Changed("data-dir") {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetStringSlice("seeds"); len(v) > 0 {
		cfg.Seeds = v
	}
	if v, _ := cmd.Flags().GetString("replication-mode"); cmd.Flags().Changed("replication-mode") {
		cfg.ReplicationMode = v
	}
}

func parseReplicationMode(s string) (repl.ReplicationMode, error) {
	switch s {
	case "", "replset":
		return repl.ModeReplSet, nil
	case "masterslave":
		return repl.ModeMasterSlave, nil
	case "none":
		return repl.ModeNone, nil
	default:
		return repl.ModeNone, fmt.Errorf("replnode: unknown replication mode %q", s)
	}
}
