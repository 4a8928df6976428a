package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"path/filepath"

	"github.com/cuemby/raftsim/pkg/log"
	"github.com/cuemby/raftsim/pkg/metrics"
	"github.com/cuemby/raftsim/pkg/raft"
	"github.com/cuemby/raftsim/pkg/raft/examples"
	"github.com/cuemby/raftsim/pkg/raftevents"
	"github.com/cuemby/raftsim/pkg/raftsecurity"
	"github.com/cuemby/raftsim/pkg/raftstore"
	"github.com/cuemby/raftsim/pkg/rafttransport/grpctransport"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/credentials"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run one Raft cluster member over gRPC with mutual TLS",
	Long: `Starts a single Raft node: a BoltDB-backed log, a gRPC transport
secured with the cluster's mutual-TLS certificates, a key/value state
machine, and the metrics/health HTTP server. --bootstrap seeds a brand
new configuration made of this node and every --peer.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	listen, _ := cmd.Flags().GetString("listen")
	peerFlags, _ := cmd.Flags().GetStringSlice("peer")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	enablePprof, _ := cmd.Flags().GetBool("enable-pprof")

	peers, err := parsePeerFlags(peerFlags)
	if err != nil {
		return err
	}

	fmt.Println("Starting raftd node...")
	fmt.Printf("  Node ID: %s\n", nodeID)
	fmt.Printf("  Listen:  %s\n", listen)
	fmt.Printf("  Peers:   %v\n", peers)
	fmt.Printf("  Data:    %s\n", dataDir)

	certDir := filepath.Join(dataDir, "certs")
	ca, err := loadOrCreateRootCA(certDir)
	if err != nil {
		return fmt.Errorf("load certificate authority: %w", err)
	}
	cert, err := raftsecurity.LoadCertFromFile(filepath.Join(certDir, nodeID))
	if err != nil {
		cert, err = issueAndSaveNodeCert(ca, certDir, nodeID)
		if err != nil {
			return fmt.Errorf("issue node certificate: %w", err)
		}
	}
	serverCreds := credentials.NewTLS(raftsecurity.ServerTLSConfig(cert, ca))
	clientCreds := credentials.NewTLS(raftsecurity.ClientTLSConfig(cert, ca))

	resolver := grpctransport.StaticResolver{}
	for id, addr := range peers {
		resolver[raft.NodeID(id)] = addr
	}

	transport, err := grpctransport.New(listen, serverCreds, clientCreds, resolver, raft.JSONSerializer{})
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer transport.Close()
	fmt.Printf("✓ transport listening on %s\n", transport.Addr())

	store, err := raftstore.NewBoltStore(dataDir, nodeID)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	if bootstrap {
		if err := seedBootstrapConfiguration(store, nodeID, peers); err != nil {
			return fmt.Errorf("seed bootstrap configuration: %w", err)
		}
		fmt.Println("✓ seeded initial configuration from this node and its peers")
	}

	sm := examples.NewKVMachine()
	membership := raft.NewDefaultMembership(nil)
	broker := raftevents.NewBroker()
	broker.Start()
	defer broker.Stop()
	adapter := metrics.NewAdapter()

	node := raft.NewNode(raft.NodeID(nodeID), store, sm, transport, membership, raft.DefaultConfig(),
		raft.WithLogger(log.NewRaftLogger(log.WithNodeID(nodeID))),
		raft.WithMetrics(adapter),
		raft.WithNotifier(broker),
	)
	transport.Register(raft.NodeID(nodeID), node)
	if err := node.Start(); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer node.Stop()
	fmt.Println("✓ node started")

	collector := metrics.NewCollector(node, broker)
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "started")
	metrics.RegisterComponent("transport", true, "listening")
	initMetricsServer(metricsAddr, enablePprof)

	fmt.Println()
	fmt.Println("Node is running. Press Ctrl+C to stop.")
	waitForSignal()
	fmt.Println("✓ shutdown complete")
	return nil
}

// seedBootstrapConfiguration writes the initial EntryConfiguration log
// entry a brand-new cluster needs before raft.Node.Start can recover a
// configuration from latestConfigInLog.
func seedBootstrapConfiguration(store raft.Storage, nodeID string, peers map[string]string) error {
	members := []raft.NodeID{raft.NodeID(nodeID)}
	for id := range peers {
		members = append(members, raft.NodeID(id))
	}
	cfg := raft.Configuration{Members: members}
	command, err := raft.JSONSerializer{}.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := store.SaveTermAndVote(1, ""); err != nil {
		return err
	}
	return store.AppendLogEntries([]raft.LogEntry{{Index: 1, Term: 1, Kind: raft.EntryConfiguration, Command: command}})
}

func loadOrCreateRootCA(dir string) (*raftsecurity.CertAuthority, error) {
	if ca, err := raftsecurity.LoadCAFromFile(dir); err == nil {
		return ca, nil
	}
	return newRootCA(dir)
}

func newRootCA(dir string) (*raftsecurity.CertAuthority, error) {
	ca, err := raftsecurity.NewCertAuthority()
	if err != nil {
		return nil, err
	}
	if err := raftsecurity.SaveCAToFile(ca, dir); err != nil {
		return nil, err
	}
	return ca, nil
}

func issueAndSaveNodeCert(ca *raftsecurity.CertAuthority, dir, nodeID string) (*tls.Certificate, error) {
	cert, err := ca.IssueNodeCertificate(nodeID, []string{nodeID, "localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	if err != nil {
		return nil, err
	}
	if err := raftsecurity.SaveCertToFile(cert, filepath.Join(dir, nodeID)); err != nil {
		return nil, err
	}
	return cert, nil
}
