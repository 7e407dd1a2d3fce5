package cmd

import (
	"github.com/urfave/cli/v2"
)

var (
	// ConfigFileFlag points at a YAML file pre-populating the flags below;
	// explicit flags on the command line still take priority.
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config-file",
		Usage: "Load flag values from this YAML file",
	}
	// DataDirFlag is the directory holding the store's taraxa.db file and
	// its snapshots/ directory.
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the node's store and key material",
		Value: DefaultDataDir(),
	}
	// GenesisFileFlag points at the genesis JSON file (spec §6).
	GenesisFileFlag = &cli.StringFlag{
		Name:  "genesis",
		Usage: "Path to the genesis file",
	}
	// WalletFileFlag points at the node's wallet JSON file (spec §6).
	WalletFileFlag = &cli.StringFlag{
		Name:  "wallet",
		Usage: "Path to the wallet file holding this node's keys",
	}
	// NetworkIDFlag is the wire-level network identifier two peers must
	// agree on to exchange Status (spec §4.I).
	NetworkIDFlag = &cli.Uint64Flag{
		Name:  "network-id",
		Usage: "Network identifier exchanged in the Status handshake",
		Value: 1,
	}
	// ListenAddrFlag is this node's own advertised peer address.
	ListenAddrFlag = &cli.StringFlag{
		Name:  "listen-addr",
		Usage: "Address this node listens for peer connections on",
		Value: "0.0.0.0:10002",
	}
	// BootNodesFlag lists peer addresses to dial at startup.
	BootNodesFlag = &cli.StringSliceFlag{
		Name:  "boot-nodes",
		Usage: "Comma-separated list of boot peer addresses",
	}
	// MaxPeersFlag bounds the peer set's size.
	MaxPeersFlag = &cli.IntFlag{
		Name:  "max-peers",
		Usage: "Maximum number of simultaneously connected peers",
		Value: 25,
	}
	// LightNodeFlag sets Config.IsLightNode (spec §6 is_light_node). The
	// value is only recorded in the config; no DAG or period history is
	// pruned.
	LightNodeFlag = &cli.BoolFlag{
		Name:  "light-node",
		Usage: "Mark the node as a light node (recorded in config; history is not pruned)",
	}
	// LightNodeHistoryFlag sets Config.LightNodeHistory, a period count
	// that is only recorded in the config.
	LightNodeHistoryFlag = &cli.Uint64Flag{
		Name:  "light-node-history",
		Usage: "Number of periods a light node retains",
		Value: 5000,
	}
	// TxPoolSizeFlag bounds the transaction pool's size (spec §6
	// transactions_pool_size, §4.D warn/drop thresholds).
	TxPoolSizeFlag = &cli.IntFlag{
		Name:  "tx-pool-size",
		Usage: "Transaction pool capacity before backpressure kicks in",
		Value: 10000,
	}
	// PacketsProcessingThreadsFlag sizes the transaction pool's
	// verification worker pool (spec §6 packets_processing_threads ∈ [3, 30]).
	PacketsProcessingThreadsFlag = &cli.IntFlag{
		Name:  "packets-processing-threads",
		Usage: "Number of worker goroutines processing inbound packets",
		Value: 14,
	}
	// VerbosityFlag sets logrus's level.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error, fatal, panic)",
		Value: "info",
	}
	// LogFormatFlag selects the logrus formatter.
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Log output format (text, json)",
		Value: "text",
	}
	// LogFileNameFlag additionally persists logs to this file.
	LogFileNameFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "If set, also write logs to this file",
	}
	// MonitoringPortFlag serves Prometheus metrics on this port.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port serving /metrics and /healthz",
		Value: 8080,
	}
	// DisableMonitoringFlag turns off the metrics HTTP server entirely.
	DisableMonitoringFlag = &cli.BoolFlag{
		Name:  "disable-monitoring",
		Usage: "Disable the metrics HTTP server",
	}
	// RPCHTTPPortFlag sets the JSON-RPC HTTP port; 0 disables it.
	RPCHTTPPortFlag = &cli.IntFlag{
		Name:  "rpc-http-port",
		Usage: "Port for the JSON-RPC HTTP endpoint (0 disables it)",
	}
	// RPCWSPortFlag sets the JSON-RPC WebSocket port; 0 disables it.
	RPCWSPortFlag = &cli.IntFlag{
		Name:  "rpc-ws-port",
		Usage: "Port for the JSON-RPC WebSocket endpoint (0 disables it)",
	}
	// RPCThreadsFlag bounds RPC request concurrency (spec §6 threads_num
	// ∈ (0, 10]).
	RPCThreadsFlag = &cli.IntFlag{
		Name:  "rpc-threads",
		Usage: "Number of RPC worker threads",
		Value: 4,
	}
)
