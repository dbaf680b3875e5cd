package casperman

import (
	"github.com/mertksk/accelerate/config/types"
)

// Config represents the configuration of the Casper settlement client
type Config struct {
	// NodeURL is the JSON-RPC endpoint of the Casper node
	NodeURL string `mapstructure:"NodeURL"`

	// ContractHash is the hash of the deployed accelerate contract,
	// with or without the "hash-" prefix
	ContractHash string `mapstructure:"ContractHash"`

	// ChainName is the network the deploys are bound to, e.g. "casper-test"
	ChainName string `mapstructure:"ChainName"`

	// PrivateKeyPath points to a file holding the hex encoded ed25519 seed
	// of the sequencer account
	PrivateKeyPath string `mapstructure:"PrivateKeyPath"`

	// PaymentAmount is the motes attached to each submit_batch deploy
	PaymentAmount uint64 `mapstructure:"PaymentAmount"`

	// DeployTTL is how long a deploy stays valid after its timestamp
	DeployTTL types.Duration `mapstructure:"DeployTTL"`
}
