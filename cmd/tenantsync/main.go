package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/tenantsync/pkg/agent"
	"github.com/cuemby/tenantsync/pkg/config"
	"github.com/cuemby/tenantsync/pkg/converter"
	"github.com/cuemby/tenantsync/pkg/fabric"
	"github.com/cuemby/tenantsync/pkg/health"
	"github.com/cuemby/tenantsync/pkg/log"
	"github.com/cuemby/tenantsync/pkg/manager"
	"github.com/cuemby/tenantsync/pkg/metrics"
	"github.com/cuemby/tenantsync/pkg/store"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tenantsync",
	Short: "tenantsync - fabric-facing reconciliation agent",
	Long: `tenantsync reconciles a declared network-fabric intent against the
fabric's observed state, tenant root by tenant root, distributing that
work across a fleet of cooperating agents.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"tenantsync version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(clusterCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the reconciliation agent",
}

var (
	dataDir     string
	raftBind    string
	raftJoin    string
	httpAddr    string
	standalone  bool
)

var agentRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent process",
	RunE:  runAgent,
}

func init() {
	agentRunCmd.Flags().StringVar(&dataDir, "data-dir", "/var/lib/tenantsync", "Directory for BoltDB + Raft state")
	agentRunCmd.Flags().StringVar(&raftBind, "raft-bind", "127.0.0.1:9201", "Raft transport bind address")
	agentRunCmd.Flags().StringVar(&raftJoin, "raft-join", "", "Address of an existing agent; when set, bootstrap is skipped and this node does not contact that agent itself")
	agentRunCmd.Flags().StringVar(&httpAddr, "http", ":9200", "Address to serve /metrics on")
	agentRunCmd.Flags().BoolVar(&standalone, "standalone", false, "Skip Raft; read/write the agent registry from local storage only")
	agentCmd.AddCommand(agentRunCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.AimServiceIdentifier == "" {
		cfg.AimServiceIdentifier = agent.NewSystemID()
	}
	cfg.Version = Version

	st, err := store.NewBoltStore(dataDir + "/tenantsync.db")
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	var reg *manager.Registry
	if !standalone {
		reg, err = manager.New(manager.Config{
			NodeID:  cfg.AimServiceIdentifier,
			Bind:    raftBind,
			DataDir: dataDir + "/raft",
		})
		if err != nil {
			return fmt.Errorf("starting raft registry: %w", err)
		}
		if raftJoin == "" {
			if err := reg.Bootstrap(cfg.AimServiceIdentifier, raftBind); err != nil {
				log.Warn("raft bootstrap: " + err.Error())
			}
		}
		defer reg.Shutdown()
	}

	// fabric.Session and converter.Converter are interface-only
	// boundaries; a production deployment supplies its own concrete
	// implementations here instead of the in-memory doubles.
	deps := agent.Deps{
		Fabric:    fabric.NewFake(),
		Converter: converter.NewFake(),
	}

	a := agent.New(cfg, deps, st, reg)

	monitor := health.NewMonitor(health.DefaultConfig(), cfg.ApicHosts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go serveMetrics(httpAddr, monitor)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	a.Run(ctx)
	return nil
}

func serveMetrics(addr string, monitor *health.Monitor) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		monitor.Tick(r.Context())
		if monitor.Healthy() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unhealthy"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server exited: " + err.Error())
	}
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the agent registry's Raft membership",
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join <node-id> <raft-addr>",
	Short: "Add a voter to a running agent's Raft registry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		reg, err := manager.New(manager.Config{
			NodeID:  cfg.AimServiceIdentifier,
			Bind:    raftBind,
			DataDir: dataDir + "/raft",
		})
		if err != nil {
			return err
		}
		defer reg.Shutdown()
		return reg.AddVoter(args[0], args[1])
	},
}

func init() {
	clusterJoinCmd.Flags().StringVar(&dataDir, "data-dir", "/var/lib/tenantsync", "Directory for Raft state")
	clusterJoinCmd.Flags().StringVar(&raftBind, "raft-bind", "127.0.0.1:9201", "Raft transport bind address")
	clusterCmd.AddCommand(clusterJoinCmd)
}
