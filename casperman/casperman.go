package casperman

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/0xPolygon/cdk-rpc/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/sequencer/types"
	"github.com/mertksk/accelerate/settlement"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrNotConfigured is returned when the client is used without a node URL
	// or contract hash
	ErrNotConfigured = errors.New("casper client is not configured")

	// ErrNamedKeyNotFound is returned when the contract does not expose the
	// requested named key
	ErrNamedKeyNotFound = errors.New("named key not found in the contract")

	jSONRPCCall = rpc.JSONRPCCall
)

const (
	submitBatchEntryPoint = "submit_batch"

	stateRootKey        = "state_root"
	batchCountKey       = "batch_count"
	totalDepositsKey    = "total_deposits"
	totalWithdrawalsKey = "total_withdrawals"

	timestampLayout = "2006-01-02T15:04:05.000Z"

	// ed25519 public keys go on the wire with a one byte algorithm prefix
	ed25519KeyPrefix = "01"
)

// Casperman talks to the accelerate contract on a Casper node. It implements
// settlement.Client.
type Casperman struct {
	cfg    Config
	logger *log.Logger

	privateKey ed25519.PrivateKey
	publicKey  string
	contract   string
}

// NewClient validates the configuration and loads the sequencer signing key
func NewClient(logger *log.Logger, cfg Config) (*Casperman, error) {
	if cfg.NodeURL == "" || cfg.ContractHash == "" {
		return nil, ErrNotConfigured
	}
	key, err := loadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("error loading the sequencer key: %w", err)
	}
	pub := key.Public().(ed25519.PublicKey)
	client := &Casperman{
		cfg:        cfg,
		logger:     logger,
		privateKey: key,
		publicKey:  ed25519KeyPrefix + hex.EncodeToString(pub),
		contract:   strings.TrimPrefix(cfg.ContractHash, "hash-"),
	}
	logger.Infof("casper client ready, account %s, contract hash-%s", AccountHash(pub), client.contract)
	return client, nil
}

// call runs the JSON-RPC request in its own goroutine so the caller's
// deadline holds even when the node never answers.
func (c *Casperman) call(ctx context.Context, method string, params ...interface{}) (rpc.Response, error) {
	type outcome struct {
		response rpc.Response
		err      error
	}
	results := make(chan outcome, 1)
	go func() {
		response, err := jSONRPCCall(c.cfg.NodeURL, method, params...)
		results <- outcome{response: response, err: err}
	}()

	select {
	case <-ctx.Done():
		return rpc.Response{}, ctx.Err()
	case result := <-results:
		return result.response, result.err
	}
}

// SubmitBatch sends a submit_batch deploy carrying the post root and the
// proof. A transport level failure after the deploy was sent is reported as
// settlement.ErrSubmissionAmbiguous so the caller reconciles before retrying.
func (c *Casperman) SubmitBatch(
	ctx context.Context, postRoot common.Hash, proof *types.Proof,
) (settlement.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return "", fmt.Errorf("error encoding the proof: %w", err)
	}

	deploy, err := c.buildDeploy(submitBatchEntryPoint, []NamedArg{
		{Name: "new_root", Value: clString(postRoot.Hex())},
		{Name: "proof", Value: clString(string(proofJSON))},
	})
	if err != nil {
		return "", fmt.Errorf("error building the deploy: %w", err)
	}

	response, err := c.call(ctx, "account_put_deploy", putDeployParams{Deploy: deploy})
	if err != nil {
		// the node may have received the deploy before the connection broke
		// or the deadline hit, either way the outcome is unknown
		return "", fmt.Errorf("%w: %v", settlement.ErrSubmissionAmbiguous, err)
	}
	if response.Error != nil {
		return "", fmt.Errorf("deploy refused by the node %d: %s", response.Error.Code, response.Error.Message)
	}

	var result putDeployResult
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return "", fmt.Errorf("error decoding account_put_deploy response: %w", err)
	}
	c.logger.Debugf("deploy %s accepted by the node", result.DeployHash)
	return settlement.Handle(result.DeployHash), nil
}

// GetStatus maps the deploy's execution results to a settlement status. A
// deploy with no execution results yet is still pending.
func (c *Casperman) GetStatus(ctx context.Context, handle settlement.Handle) (settlement.Status, error) {
	if err := ctx.Err(); err != nil {
		return settlement.Status{}, err
	}

	response, err := c.call(ctx, "info_get_deploy", getDeployParams{DeployHash: string(handle)})
	if err != nil {
		return settlement.Status{}, fmt.Errorf("error calling info_get_deploy: %w", err)
	}
	if response.Error != nil {
		return settlement.Status{}, fmt.Errorf(
			"info_get_deploy failed %d: %s", response.Error.Code, response.Error.Message,
		)
	}

	var result getDeployResult
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return settlement.Status{}, fmt.Errorf("error decoding info_get_deploy response: %w", err)
	}
	if len(result.ExecutionResults) == 0 {
		return settlement.Status{Kind: settlement.StatusPending}, nil
	}

	execution := result.ExecutionResults[0].Result
	switch {
	case execution.Success != nil:
		return settlement.Status{Kind: settlement.StatusSuccess}, nil
	case execution.Failure != nil:
		return settlement.Status{
			Kind:   settlement.StatusFailure,
			Detail: execution.Failure.ErrorMessage,
		}, nil
	}
	return settlement.Status{Kind: settlement.StatusPending}, nil
}

// GetCurrentRoot reads the state_root named key of the contract
func (c *Casperman) GetCurrentRoot(ctx context.Context) (common.Hash, error) {
	value, err := c.queryNamedKey(ctx, stateRootKey)
	if err != nil {
		return common.Hash{}, err
	}
	var root string
	if err := json.Unmarshal(value.Parsed, &root); err != nil {
		return common.Hash{}, fmt.Errorf("error decoding the %s key: %w", stateRootKey, err)
	}
	return common.HexToHash(root), nil
}

// GetBatchCount reads the batch_count named key of the contract
func (c *Casperman) GetBatchCount(ctx context.Context) (uint64, error) {
	value, err := c.queryNamedKey(ctx, batchCountKey)
	if err != nil {
		return 0, err
	}
	var count uint64
	if err := json.Unmarshal(value.Parsed, &count); err != nil {
		return 0, fmt.Errorf("error decoding the %s key: %w", batchCountKey, err)
	}
	return count, nil
}

// GetTotalDeposits reads the cumulative motes deposited into the contract
func (c *Casperman) GetTotalDeposits(ctx context.Context) (*big.Int, error) {
	return c.queryU512(ctx, totalDepositsKey)
}

// GetTotalWithdrawals reads the cumulative motes withdrawn from the contract
func (c *Casperman) GetTotalWithdrawals(ctx context.Context) (*big.Int, error) {
	return c.queryU512(ctx, totalWithdrawalsKey)
}

func (c *Casperman) queryU512(ctx context.Context, name string) (*big.Int, error) {
	value, err := c.queryNamedKey(ctx, name)
	if err != nil {
		return nil, err
	}
	var decimal string
	if err := json.Unmarshal(value.Parsed, &decimal); err != nil {
		return nil, fmt.Errorf("error decoding the %s key: %w", name, err)
	}
	amount, ok := new(big.Int).SetString(decimal, 10)
	if !ok {
		return nil, fmt.Errorf("malformed U512 value %q in the %s key", decimal, name)
	}
	return amount, nil
}

func (c *Casperman) queryNamedKey(ctx context.Context, name string) (*CLValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	response, err := c.call(ctx, "query_global_state", queryGlobalStateParams{
		Key:  "hash-" + c.contract,
		Path: []string{name},
	})
	if err != nil {
		return nil, fmt.Errorf("error calling query_global_state: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf(
			"%w: %s (%d: %s)", ErrNamedKeyNotFound, name, response.Error.Code, response.Error.Message,
		)
	}

	var result queryGlobalStateResult
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return nil, fmt.Errorf("error decoding query_global_state response: %w", err)
	}
	if result.StoredValue.CLValue == nil {
		return nil, fmt.Errorf("%w: %s is not a CLValue", ErrNamedKeyNotFound, name)
	}
	return result.StoredValue.CLValue, nil
}

// buildDeploy assembles and signs a deploy calling an entry point of the
// accelerate contract
func (c *Casperman) buildDeploy(entryPoint string, args []NamedArg) (Deploy, error) {
	payment := DeployItem{
		ModuleBytes: &ModuleBytes{
			ModuleBytes: "",
			Args: []NamedArg{
				{Name: "amount", Value: clU512(new(big.Int).SetUint64(c.cfg.PaymentAmount))},
			},
		},
	}
	session := DeployItem{
		StoredContractByHash: &StoredContractByHash{
			Hash:       c.contract,
			EntryPoint: entryPoint,
			Args:       args,
		},
	}

	body, err := bodyHash(payment, session)
	if err != nil {
		return Deploy{}, err
	}

	header := Header{
		Account:   c.publicKey,
		Timestamp: time.Now().UTC().Format(timestampLayout),
		TTL:       c.cfg.DeployTTL.String(),
		GasPrice:  1,
		BodyHash:  hex.EncodeToString(body[:]),
		ChainName: c.cfg.ChainName,
	}
	hash, err := deployHash(header)
	if err != nil {
		return Deploy{}, err
	}

	signature := ed25519.Sign(c.privateKey, hash[:])
	return Deploy{
		Hash:    hex.EncodeToString(hash[:]),
		Header:  header,
		Payment: payment,
		Session: session,
		Approvals: []Approval{
			{
				Signer:    c.publicKey,
				Signature: ed25519KeyPrefix + hex.EncodeToString(signature),
			},
		},
	}, nil
}

// AccountHash derives the account-hash form of an ed25519 public key, the
// format transaction senders and recipients use.
func AccountHash(pub ed25519.PublicKey) string {
	preimage := append([]byte("ed25519"), 0)
	preimage = append(preimage, pub...)
	hash := blake2b.Sum256(preimage)
	return "account-hash-" + hex.EncodeToString(hash[:])
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("the key file must hold a hex encoded ed25519 seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("unexpected seed length %d, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func parseTimestampMillis(value string) (uint64, error) {
	ts, err := time.Parse(timestampLayout, value)
	if err != nil {
		return 0, err
	}
	return uint64(ts.UnixMilli()), nil
}

func parseTTLMillis(value string) (uint64, error) {
	ttl, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	return uint64(ttl.Milliseconds()), nil
}
