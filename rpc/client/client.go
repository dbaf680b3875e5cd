package client

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/0xPolygon/cdk-rpc/rpc"
	"github.com/ethereum/go-ethereum/common"
	accelrpc "github.com/mertksk/accelerate/rpc"
	"github.com/mertksk/accelerate/sequencer/types"
)

// ClientInterface is the client of the accelerate RPC service
type ClientInterface interface {
	SendTransaction(sender, recipient string, amount *big.Int) (*types.Transaction, error)
	GetTransactions() ([]*types.Transaction, error)
	GetTransactionStatus(id common.Hash) (types.TxStatus, error)
	GetBatches(limit *uint64) ([]*types.Batch, error)
	GetBatchCount() (uint64, error)
	GetStateRoot() (common.Hash, error)
	GetSettlementInfo() (accelrpc.SettlementInfo, error)
	GetMetrics() (types.Metrics, error)
}

// Client wraps the accelerate JSON-RPC calls
type Client struct {
	url string
}

// NewClient returns a client ready to be used
func NewClient(url string) *Client {
	return &Client{
		url: url,
	}
}

func (c *Client) SendTransaction(sender, recipient string, amount *big.Int) (*types.Transaction, error) {
	response, err := rpc.JSONRPCCall(c.url, "accelerate_sendTransaction", sender, recipient, amount.String())
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result types.Transaction
	return &result, json.Unmarshal(response.Result, &result)
}

func (c *Client) GetTransactions() ([]*types.Transaction, error) {
	response, err := rpc.JSONRPCCall(c.url, "accelerate_getTransactions")
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result []*types.Transaction
	return result, json.Unmarshal(response.Result, &result)
}

func (c *Client) GetTransactionStatus(id common.Hash) (types.TxStatus, error) {
	response, err := rpc.JSONRPCCall(c.url, "accelerate_getTransactionStatus", id)
	if err != nil {
		return "", err
	}
	if response.Error != nil {
		return "", fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result types.TxStatus
	return result, json.Unmarshal(response.Result, &result)
}

func (c *Client) GetBatches(limit *uint64) ([]*types.Batch, error) {
	response, err := rpc.JSONRPCCall(c.url, "accelerate_getBatches", limit)
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result []*types.Batch
	return result, json.Unmarshal(response.Result, &result)
}

func (c *Client) GetBatchCount() (uint64, error) {
	response, err := rpc.JSONRPCCall(c.url, "accelerate_getBatchCount")
	if err != nil {
		return 0, err
	}
	if response.Error != nil {
		return 0, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result uint64
	return result, json.Unmarshal(response.Result, &result)
}

func (c *Client) GetStateRoot() (common.Hash, error) {
	response, err := rpc.JSONRPCCall(c.url, "accelerate_getStateRoot")
	if err != nil {
		return common.Hash{}, err
	}
	if response.Error != nil {
		return common.Hash{}, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result common.Hash
	return result, json.Unmarshal(response.Result, &result)
}

func (c *Client) GetSettlementInfo() (accelrpc.SettlementInfo, error) {
	response, err := rpc.JSONRPCCall(c.url, "accelerate_getSettlementInfo")
	if err != nil {
		return accelrpc.SettlementInfo{}, err
	}
	if response.Error != nil {
		return accelrpc.SettlementInfo{}, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result accelrpc.SettlementInfo
	return result, json.Unmarshal(response.Result, &result)
}

func (c *Client) GetMetrics() (types.Metrics, error) {
	response, err := rpc.JSONRPCCall(c.url, "accelerate_getMetrics")
	if err != nil {
		return types.Metrics{}, err
	}
	if response.Error != nil {
		return types.Metrics{}, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result types.Metrics
	return result, json.Unmarshal(response.Result, &result)
}
