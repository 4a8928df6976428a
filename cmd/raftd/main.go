package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof" // pprof endpoints under /debug/pprof
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/raftsim/pkg/log"
	"github.com/cuemby/raftsim/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
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
	Use:   "raftd",
	Short: "raftd - a Raft consensus node and deterministic network simulator",
	Long: `raftd runs a single Raft cluster member over real gRPC with mutual
TLS, or drives an in-process cluster against the deterministic network
simulator for local experimentation without touching a real socket.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("raftd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(certsCmd)

	serveCmd.Flags().String("node-id", "node-1", "Unique node ID")
	serveCmd.Flags().String("listen", "127.0.0.1:7946", "Address to listen on for peer RPCs")
	serveCmd.Flags().StringSlice("peer", nil, "Peer in id=host:port form, repeatable")
	serveCmd.Flags().String("data-dir", "./raftd-data", "Data directory for the BoltDB store and certificates")
	serveCmd.Flags().Bool("bootstrap", false, "Seed a brand-new configuration of this node and its --peer list on first start")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP server")
	serveCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the metrics server")

	simulateCmd.Flags().Int("nodes", 3, "Number of simulated cluster members")
	simulateCmd.Flags().Int64("seed", 1, "Deterministic RNG seed for the simulated network")
	simulateCmd.Flags().Duration("duration", 5*time.Second, "Wall-clock duration to run the workload")
	simulateCmd.Flags().Int("puts", 20, "Number of key/value commands to submit through the client")

	certsCmd.AddCommand(certsInitCmd)
	certsInitCmd.Flags().String("dir", "./raftd-data/certs", "Directory to write the CA and node certificates to")
	certsInitCmd.Flags().StringSlice("node-id", []string{"node-1", "node-2", "node-3"}, "Node IDs to issue certificates for")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var certsCmd = &cobra.Command{
	Use:     "certs",
	Aliases: []string{"cert", "certificates"},
	Short:   "Manage the cluster's mutual-TLS certificate authority",
}

var certsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a root CA and a node certificate per --node-id",
	Long: `Generates a fresh cluster certificate authority and, for every
--node-id given, a leaf certificate valid for both client and server
auth. Run this once per cluster and copy dir/ca.crt, dir/ca.key and
dir/<node-id>/ into each node's <data-dir>/certs/ before starting serve,
which reads them from there.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		nodeIDs, _ := cmd.Flags().GetStringSlice("node-id")

		ca, err := newRootCA(dir)
		if err != nil {
			return err
		}

		for _, id := range nodeIDs {
			if _, err := issueAndSaveNodeCert(ca, dir, id); err != nil {
				return fmt.Errorf("issue certificate for %s: %w", id, err)
			}
			fmt.Printf("✓ issued certificate for %s (%s)\n", id, filepath.Join(dir, id))
		}
		fmt.Printf("✓ CA written to %s\n", filepath.Join(dir, "ca.crt"))
		return nil
	},
}

func initMetricsServer(addr string, enablePprof bool) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	if enablePprof {
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
	}
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	fmt.Printf("✓ metrics endpoint: http://%s/metrics\n", addr)
	fmt.Printf("✓ health endpoints: http://%s/health, /ready, /live\n", addr)
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")
}

func parsePeerFlags(peers []string) (map[string]string, error) {
	out := make(map[string]string, len(peers))
	for _, p := range peers {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --peer %q, expected id=host:port", p)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}
