package prover

import (
	"github.com/mertksk/accelerate/config/types"
)

// BackendType is the type of the proof backend
type BackendType string

const (
	// BackendRPC proofs are generated by an external prover service over JSON-RPC
	BackendRPC BackendType = "rpc"
	// BackendSimulated proofs are deterministic placeholders, only meant for
	// demo and test deployments
	BackendSimulated BackendType = "simulated"
)

// Config represents the configuration of the prover coordinator
type Config struct {
	// Backend selects the proof backend. The simulated backend is never used
	// as a runtime fallback, it has to be selected here explicitly.
	Backend BackendType `mapstructure:"Backend"`

	// ProverURL is the URL of the prover service, required for the rpc backend
	ProverURL string `mapstructure:"ProverURL"`

	// GenerationTimeout bounds a single proof generation attempt
	GenerationTimeout types.Duration `mapstructure:"GenerationTimeout"`

	// MaxRetries is the number of additional attempts after a failed proof
	// generation, before the batch is marked PROOF_FAILED
	MaxRetries int `mapstructure:"MaxRetries"`

	// RetryDelay is the time to wait between proof generation attempts
	RetryDelay types.Duration `mapstructure:"RetryDelay"`
}
