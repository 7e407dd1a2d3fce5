package node

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/crypto"
	"github.com/taraxa-go/taraxa-node/crypto/vdf"
	"github.com/taraxa-go/taraxa-node/crypto/vrf"
	"github.com/taraxa-go/taraxa-node/shared/errs"
)

// Built-in hardfork tables per chain id (spec §6: the genesis file's
// hardforks section is always overwritten with these at load time, never
// trusted from disk).
const (
	MainnetChainID = 841
	TestnetChainID = 842
	DevnetChainID  = 843
)

// Hardforks is the (currently empty) table of block-height-gated protocol
// changes for a chain id. Kept as a named type so a future hardfork can be
// added without changing Genesis's shape.
type Hardforks struct{}

func hardforksForChainID(chainID uint64) Hardforks {
	switch chainID {
	case MainnetChainID, TestnetChainID, DevnetChainID:
		return Hardforks{}
	default:
		return Hardforks{}
	}
}

// NetworkConfig mirrors spec §6's network config section.
type NetworkConfig struct {
	ListenAddr               string   `json:"listen_addr" yaml:"listen_addr"`
	NetworkID                uint64   `json:"network_id" yaml:"network_id"`
	BootNodes                []string `json:"boot_nodes" yaml:"boot_nodes"`
	MaxPeers                 int      `json:"max_peers" yaml:"max_peers"`
	PacketsProcessingThreads int      `json:"packets_processing_threads" yaml:"packets_processing_threads"`
	// MonitoringAddr serves /metrics and /healthz; empty disables the
	// metrics HTTP service entirely.
	MonitoringAddr string `json:"monitoring_addr" yaml:"monitoring_addr"`
}

// RPCConfig mirrors spec §6's RPC validation rules. No RPC server is
// implemented (it is not one of the specified modules); these fields exist
// so a config file's RPC section still validates the way spec §6 states.
type RPCConfig struct {
	HTTPPort  int `json:"http_port" yaml:"http_port"`
	WSPort    int `json:"ws_port" yaml:"ws_port"`
	ThreadNum int `json:"threads_num" yaml:"threads_num"`
}

// ChainConfig mirrors spec §6's chain config section: DPOS and vote timing
// parameters plus the chain id selecting a hardfork table.
type ChainConfig struct {
	ChainID              uint64 `json:"chain_id" yaml:"chain_id"`
	VoteAcceptingPeriods uint64 `json:"vote_accepting_periods" yaml:"vote_accepting_periods"`
	DelegationDelay      uint64 `json:"delegation_delay" yaml:"delegation_delay"`
	MinPoolSize          int    `json:"min_pool_size" yaml:"min_pool_size"`
}

// Config is the node's full runtime configuration (spec §6).
type Config struct {
	DataDir              string        `json:"data_dir" yaml:"data_dir"`
	GenesisFile          string        `json:"genesis_file" yaml:"genesis_file"`
	WalletFile           string        `json:"wallet_file" yaml:"wallet_file"`
	Network              NetworkConfig `json:"network" yaml:"network"`
	RPC                  RPCConfig     `json:"rpc" yaml:"rpc"`
	Chain                ChainConfig   `json:"chain" yaml:"chain"`
	IsLightNode          bool          `json:"is_light_node" yaml:"is_light_node"`
	LightNodeHistory     uint64        `json:"light_node_history" yaml:"light_node_history"`
	TransactionsPoolSize int           `json:"transactions_pool_size" yaml:"transactions_pool_size"`
}

// Validate enforces spec §6's cross-field validation rules, returning a
// ConfigInvalid error naming the first rule violated.
func (c *Config) Validate() error {
	if c.Chain.VoteAcceptingPeriods > c.Chain.DelegationDelay {
		return errs.New(errs.ConfigInvalid, "vote_accepting_periods (%d) must be <= delegation_delay (%d)",
			c.Chain.VoteAcceptingPeriods, c.Chain.DelegationDelay)
	}
	if c.TransactionsPoolSize < c.Chain.MinPoolSize {
		return errs.New(errs.ConfigInvalid, "transactions_pool_size (%d) must be >= min_pool_size (%d)",
			c.TransactionsPoolSize, c.Chain.MinPoolSize)
	}
	if c.Network.PacketsProcessingThreads < 3 || c.Network.PacketsProcessingThreads > 30 {
		return errs.New(errs.ConfigInvalid, "packets_processing_threads (%d) must be in [3, 30]",
			c.Network.PacketsProcessingThreads)
	}
	if c.RPC.HTTPPort != 0 || c.RPC.WSPort != 0 {
		if c.RPC.ThreadNum <= 0 || c.RPC.ThreadNum > 10 {
			return errs.New(errs.ConfigInvalid, "rpc threads_num (%d) must be in (0, 10]", c.RPC.ThreadNum)
		}
	}
	return nil
}

// Wallet is the node's key material, persisted as spec §6's wallet JSON
// file. node_public/node_address/vrf_public are derived fields kept in the
// file for convenience; LoadWallet re-derives and cross-checks them.
type Wallet struct {
	NodeSecret  string `json:"node_secret"`
	NodePublic  string `json:"node_public"`
	NodeAddress string `json:"node_address"`
	VrfSecret   string `json:"vrf_secret"`
	VrfPublic   string `json:"vrf_public"`
}

// Keys holds the parsed key material a wallet file decodes to.
type Keys struct {
	NodeKey *crypto.PrivateKey
	VrfKey  *vrf.PrivateKey
}

// LoadWallet reads and validates a wallet file, rejecting it if its
// derived public fields don't match what the secret keys actually derive.
func LoadWallet(path string) (*Keys, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading wallet file: %w", err)
	}
	var w Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, errs.Wrap(errs.MalformedEncoding, err)
	}

	secretBytes, err := hex.DecodeString(w.NodeSecret)
	if err != nil {
		return nil, errs.New(errs.MalformedEncoding, "wallet: node_secret is not hex: %v", err)
	}
	nodeKey, err := crypto.PrivateKeyFromBytes(secretBytes)
	if err != nil {
		return nil, err
	}
	if hex.EncodeToString(nodeKey.Public().Bytes()) != w.NodePublic {
		return nil, errs.New(errs.ConfigInvalid, "wallet: node_public does not match node_secret")
	}
	if nodeKey.Public().Address().Hex() != w.NodeAddress {
		return nil, errs.New(errs.ConfigInvalid, "wallet: node_address does not match node_secret")
	}

	vrfSecretBytes, err := hex.DecodeString(w.VrfSecret)
	if err != nil {
		return nil, errs.New(errs.MalformedEncoding, "wallet: vrf_secret is not hex: %v", err)
	}
	vrfKey, err := vrf.PrivateKeyFromBytes(vrfSecretBytes)
	if err != nil {
		return nil, err
	}
	if hex.EncodeToString(vrfKey.Public().Bytes()) != w.VrfPublic {
		return nil, errs.New(errs.ConfigInvalid, "wallet: vrf_public does not match vrf_secret")
	}

	return &Keys{NodeKey: nodeKey, VrfKey: vrfKey}, nil
}

// WriteWallet derives and persists a wallet file for a freshly generated
// key pair.
func WriteWallet(path string, nodeKey *crypto.PrivateKey, vrfKey *vrf.PrivateKey) error {
	w := Wallet{
		NodeSecret:  hex.EncodeToString(nodeKey.Bytes()),
		NodePublic:  hex.EncodeToString(nodeKey.Public().Bytes()),
		NodeAddress: nodeKey.Public().Address().Hex(),
		VrfSecret:   hex.EncodeToString(vrfKey.Bytes()),
		VrfPublic:   hex.EncodeToString(vrfKey.Public().Bytes()),
	}
	raw, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0600)
}

// GenesisAccount is one pre-funded account in the genesis file.
type GenesisAccount struct {
	Address common.Address `json:"address"`
	Balance *big.Int       `json:"balance"`
}

// DposConfig mirrors the genesis file's delegated proof-of-stake
// parameters. Exact sortition constants are chain-specific and not fully
// enumerated by the wire spec, so they are read from genesis rather than
// hardcoded (spec §9 open question).
type DposConfig struct {
	SortitionThreshold uint64 `json:"sortition_threshold"`
	EligibleVoters     uint64 `json:"eligible_voters"`
}

// Genesis is the chain's genesis file (spec §6). Hardforks is never read
// from disk: LoadGenesis always overwrites it from the built-in table for
// ChainID.
type Genesis struct {
	ChainID   uint64           `json:"chain_id"`
	Accounts  []GenesisAccount `json:"accounts"`
	Dpos      DposConfig       `json:"dpos"`
	Vdf       vdf.Config       `json:"vdf"`
	Hardforks Hardforks        `json:"hardforks"`
}

// LoadGenesis reads a genesis file, then overwrites its Hardforks field
// from the built-in per-chain-id table regardless of what the file
// contained (spec §6).
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, errs.Wrap(errs.MalformedEncoding, err)
	}
	g.Hardforks = hardforksForChainID(g.ChainID)
	if g.Vdf.LambdaBound == 0 {
		g.Vdf.LambdaBound = vdf.DefaultLambdaBound
	}
	return &g, nil
}
