package prover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/0xPolygon/cdk-rpc/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/keccak256"
	"github.com/mertksk/accelerate/sequencer/types"
)

var (
	// ErrPermanent marks proof backend failures that will not go away with a
	// retry, e.g. the backend rejected the input. The coordinator fails the
	// batch immediately on these.
	ErrPermanent = errors.New("permanent proof backend failure")

	// errProverNotConfigured is returned by the rpc backend when no prover
	// URL was configured
	errProverNotConfigured = errors.New("prover URL is not configured")
)

// Backend produces succinct proofs of correct state transition for a batch.
// Implementations must be deterministic: the same input is always accepted or
// always rejected.
type Backend interface {
	// Name identifies the backend, it is recorded on every generated proof
	Name() string
	// GenerateProof proves the state transition preRoot -> postRoot under the
	// given transactions
	GenerateProof(
		ctx context.Context, txs []types.Transaction, preRoot, postRoot common.Hash,
	) (*types.Proof, error)
}

// proofRequest is the wire format of the prover_generateProof params.
type proofRequest struct {
	Transactions []proofRequestTx `json:"transactions"`
	PreRoot      common.Hash      `json:"preRoot"`
	PostRoot     common.Hash      `json:"postRoot"`
}

type proofRequestTx struct {
	ID        common.Hash `json:"id"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient"`
	Amount    string      `json:"amount"`
}

var jSONRPCCall = rpc.JSONRPCCall

// RPCBackend asks an external prover service for proofs over JSON-RPC.
type RPCBackend struct {
	url string
}

// call runs the JSON-RPC request in its own goroutine so the per attempt
// deadline holds even when the prover never answers.
func (b *RPCBackend) call(ctx context.Context, method string, params ...interface{}) (rpc.Response, error) {
	type outcome struct {
		response rpc.Response
		err      error
	}
	results := make(chan outcome, 1)
	go func() {
		response, err := jSONRPCCall(b.url, method, params...)
		results <- outcome{response: response, err: err}
	}()

	select {
	case <-ctx.Done():
		return rpc.Response{}, ctx.Err()
	case result := <-results:
		return result.response, result.err
	}
}

// NewRPCBackend returns a Backend talking to the prover service at the given URL.
func NewRPCBackend(url string) *RPCBackend {
	return &RPCBackend{url: url}
}

// Name implements Backend.
func (b *RPCBackend) Name() string {
	return string(BackendRPC)
}

// GenerateProof implements Backend.
func (b *RPCBackend) GenerateProof(
	ctx context.Context, txs []types.Transaction, preRoot, postRoot common.Hash,
) (*types.Proof, error) {
	if b.url == "" {
		return nil, fmt.Errorf("%w: %v", ErrPermanent, errProverNotConfigured)
	}

	request := proofRequest{
		Transactions: make([]proofRequestTx, 0, len(txs)),
		PreRoot:      preRoot,
		PostRoot:     postRoot,
	}
	for _, tx := range txs {
		request.Transactions = append(request.Transactions, proofRequestTx{
			ID:        tx.ID,
			Sender:    tx.Sender,
			Recipient: tx.Recipient,
			Amount:    tx.Amount.String(),
		})
	}

	response, err := b.call(ctx, "prover_generateProof", request)
	if err != nil {
		return nil, fmt.Errorf("error calling prover_generateProof: %w", err)
	}
	if response.Error != nil {
		// the prover rejecting the input is not recoverable by retrying
		return nil, fmt.Errorf("%w: prover_generateProof code %d: %s",
			ErrPermanent, response.Error.Code, response.Error.Message)
	}

	proof := &types.Proof{}
	if err := json.Unmarshal(response.Result, proof); err != nil {
		return nil, fmt.Errorf("error unmarshalling prover_generateProof result: %w", err)
	}
	proof.Backend = b.Name()
	return proof, nil
}

// SimulatedBackend derives a deterministic placeholder proof from the batch
// content. It keeps the pipeline observable in demo and test deployments and
// is selected only by explicit configuration, never as a fallback.
type SimulatedBackend struct{}

// NewSimulatedBackend returns a simulated proof backend.
func NewSimulatedBackend() *SimulatedBackend {
	return &SimulatedBackend{}
}

// Name implements Backend.
func (b *SimulatedBackend) Name() string {
	return string(BackendSimulated)
}

// GenerateProof implements Backend.
func (b *SimulatedBackend) GenerateProof(
	ctx context.Context, txs []types.Transaction, preRoot, postRoot common.Hash,
) (*types.Proof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	preimage := [][]byte{preRoot.Bytes(), postRoot.Bytes()}
	for _, tx := range txs {
		preimage = append(preimage, tx.ID.Bytes())
	}
	digest := common.BytesToHash(keccak256.Hash(preimage...))

	return &types.Proof{
		Data:          digest.Hex(),
		PublicSignals: []string{preRoot.Hex(), postRoot.Hex()},
		Backend:       b.Name(),
	}, nil
}

// NewBackend builds the proof backend selected by the config.
func NewBackend(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case BackendRPC:
		if cfg.ProverURL == "" {
			return nil, errProverNotConfigured
		}
		return NewRPCBackend(cfg.ProverURL), nil
	case BackendSimulated:
		return NewSimulatedBackend(), nil
	default:
		return nil, fmt.Errorf("unknown proof backend type: %q", cfg.Backend)
	}
}
