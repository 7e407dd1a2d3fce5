// Package main is the taraxa-node binary's entry point.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	runtimeDebug "runtime/debug"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	_ "go.uber.org/automaxprocs"

	"github.com/taraxa-go/taraxa-node/crypto"
	"github.com/taraxa-go/taraxa-node/crypto/vrf"
	"github.com/taraxa-go/taraxa-node/node"
	"github.com/taraxa-go/taraxa-node/shared/cmd"
	"github.com/taraxa-go/taraxa-node/shared/logutil"
	"github.com/taraxa-go/taraxa-node/shared/version"
)

var appFlags = cmd.WrapFlags([]cli.Flag{
	cmd.ConfigFileFlag,
	cmd.DataDirFlag,
	cmd.GenesisFileFlag,
	cmd.WalletFileFlag,
	cmd.NetworkIDFlag,
	cmd.ListenAddrFlag,
	cmd.BootNodesFlag,
	cmd.MaxPeersFlag,
	cmd.LightNodeFlag,
	cmd.LightNodeHistoryFlag,
	cmd.TxPoolSizeFlag,
	cmd.PacketsProcessingThreadsFlag,
	cmd.VerbosityFlag,
	cmd.LogFormatFlag,
	cmd.LogFileNameFlag,
	cmd.MonitoringPortFlag,
	cmd.DisableMonitoringFlag,
	cmd.RPCHTTPPortFlag,
	cmd.RPCWSPortFlag,
	cmd.RPCThreadsFlag,
})

func main() {
	log := logrus.WithField("prefix", "main")

	app := cli.NewApp()
	app.Name = "taraxa-node"
	app.Usage = "a DAG+PBFT blockchain full node"
	app.Version = version.GetVersion()
	app.Flags = appFlags
	app.Action = runNode

	app.Before = func(ctx *cli.Context) error {
		if err := cmd.LoadFlagsFromConfig(appFlags)(ctx); err != nil {
			return err
		}
		if err := configureLogging(ctx); err != nil {
			return err
		}
		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}

	app.Commands = []*cli.Command{
		{
			Name:   "node",
			Usage:  "run the full node",
			Action: runNode,
		},
		{
			Name:   "config",
			Usage:  "load, validate, and print the effective configuration",
			Action: printConfig,
		},
		{
			Name:      "account",
			Usage:     "generate (or import) a node signing key pair",
			ArgsUsage: "[key]",
			Action:    genAccount,
		},
		{
			Name:      "vrf",
			Usage:     "generate (or import) a VRF key pair",
			ArgsUsage: "[key]",
			Action:    genVrf,
		},
	}

	defer func() {
		if x := recover(); x != nil {
			log.Errorf("runtime panic: %v\n%v", x, string(runtimeDebug.Stack()))
			panic(x)
		}
	}()

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func configureLogging(ctx *cli.Context) error {
	switch format := ctx.String(cmd.LogFormatFlag.Name); format {
	case "text":
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		formatter.DisableColors = ctx.String(cmd.LogFileNameFlag.Name) != ""
		logrus.SetFormatter(formatter)
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %s", format)
	}

	if logFileName := ctx.String(cmd.LogFileNameFlag.Name); logFileName != "" {
		if err := logutil.ConfigurePersistentLogging(logFileName); err != nil {
			logrus.WithError(err).Error("failed to configure persistent logging")
		}
	}

	level, err := logrus.ParseLevel(ctx.String(cmd.VerbosityFlag.Name))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}

// configFromContext assembles a node.Config from CLI flags. The chain
// validation bounds have no flag: MinPoolSize is fixed at 1 and the other
// chain fields stay zero, except ChainID, which callers copy from genesis.
func configFromContext(ctx *cli.Context) node.Config {
	return node.Config{
		DataDir:              ctx.String(cmd.DataDirFlag.Name),
		GenesisFile:          ctx.String(cmd.GenesisFileFlag.Name),
		WalletFile:           ctx.String(cmd.WalletFileFlag.Name),
		IsLightNode:          ctx.Bool(cmd.LightNodeFlag.Name),
		LightNodeHistory:     ctx.Uint64(cmd.LightNodeHistoryFlag.Name),
		TransactionsPoolSize: ctx.Int(cmd.TxPoolSizeFlag.Name),
		Network: node.NetworkConfig{
			ListenAddr:               ctx.String(cmd.ListenAddrFlag.Name),
			NetworkID:                ctx.Uint64(cmd.NetworkIDFlag.Name),
			BootNodes:                ctx.StringSlice(cmd.BootNodesFlag.Name),
			MaxPeers:                 ctx.Int(cmd.MaxPeersFlag.Name),
			PacketsProcessingThreads: ctx.Int(cmd.PacketsProcessingThreadsFlag.Name),
			MonitoringAddr:           monitoringAddr(ctx),
		},
		RPC: node.RPCConfig{
			HTTPPort:  ctx.Int(cmd.RPCHTTPPortFlag.Name),
			WSPort:    ctx.Int(cmd.RPCWSPortFlag.Name),
			ThreadNum: ctx.Int(cmd.RPCThreadsFlag.Name),
		},
		Chain: node.ChainConfig{
			MinPoolSize: 1,
		},
	}
}

func monitoringAddr(ctx *cli.Context) string {
	if ctx.Bool(cmd.DisableMonitoringFlag.Name) {
		return ""
	}
	return fmt.Sprintf(":%d", ctx.Int(cmd.MonitoringPortFlag.Name))
}

func runNode(ctx *cli.Context) error {
	cfg := configFromContext(ctx)

	genesis, err := node.LoadGenesis(cfg.GenesisFile)
	if err != nil {
		return err
	}
	cfg.Chain.ChainID = genesis.ChainID

	keys, err := node.LoadWallet(cfg.WalletFile)
	if err != nil {
		return err
	}

	n, err := node.New(cfg, keys, genesis)
	if err != nil {
		return err
	}
	return n.Start()
}

func printConfig(ctx *cli.Context) error {
	cfg := configFromContext(ctx)
	if cfg.GenesisFile != "" {
		genesis, err := node.LoadGenesis(cfg.GenesisFile)
		if err != nil {
			return err
		}
		cfg.Chain.ChainID = genesis.ChainID
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	enc, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}

func genAccount(ctx *cli.Context) error {
	var key *crypto.PrivateKey
	var err error
	if secret := ctx.Args().First(); secret != "" {
		raw, decodeErr := hex.DecodeString(secret)
		if decodeErr != nil {
			return fmt.Errorf("key must be hex-encoded: %w", decodeErr)
		}
		key, err = crypto.PrivateKeyFromBytes(raw)
	} else {
		key, err = crypto.GenerateKey()
	}
	if err != nil {
		return err
	}

	out := map[string]string{
		"node_secret":  hex.EncodeToString(key.Bytes()),
		"node_public":  hex.EncodeToString(key.Public().Bytes()),
		"node_address": key.Public().Address().Hex(),
	}
	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}

func genVrf(ctx *cli.Context) error {
	var priv *vrf.PrivateKey
	var pub *vrf.PublicKey
	var err error
	if secret := ctx.Args().First(); secret != "" {
		raw, decodeErr := hex.DecodeString(secret)
		if decodeErr != nil {
			return fmt.Errorf("key must be hex-encoded: %w", decodeErr)
		}
		priv, err = vrf.PrivateKeyFromBytes(raw)
		if err == nil {
			pub = priv.Public()
		}
	} else {
		priv, pub, err = vrf.GenerateKey()
	}
	if err != nil {
		return err
	}

	out := map[string]string{
		"vrf_secret": hex.EncodeToString(priv.Bytes()),
		"vrf_public": hex.EncodeToString(pub.Bytes()),
	}
	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}
