package casperman

import (
	"encoding/json"
)

// Casper JSON-RPC wire types. Only the fields the client reads or writes are
// modeled, the node tolerates absent optional fields.

// Deploy is a signed unit of work sent to the network
type Deploy struct {
	Hash      string     `json:"hash"`
	Header    Header     `json:"header"`
	Payment   DeployItem `json:"payment"`
	Session   DeployItem `json:"session"`
	Approvals []Approval `json:"approvals"`
}

// Header binds a deploy to an account, a chain and a validity window
type Header struct {
	Account   string `json:"account"`
	Timestamp string `json:"timestamp"`
	TTL       string `json:"ttl"`
	GasPrice  uint64 `json:"gas_price"`
	BodyHash  string `json:"body_hash"`
	ChainName string `json:"chain_name"`
}

// Approval is a signature over the deploy hash
type Approval struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// DeployItem is the payment or session part of a deploy. Exactly one of the
// variants is set.
type DeployItem struct {
	ModuleBytes          *ModuleBytes          `json:"ModuleBytes,omitempty"`
	StoredContractByHash *StoredContractByHash `json:"StoredContractByHash,omitempty"`
}

// ModuleBytes is the standard payment variant
type ModuleBytes struct {
	ModuleBytes string     `json:"module_bytes"`
	Args        []NamedArg `json:"args"`
}

// StoredContractByHash calls an entry point of an installed contract
type StoredContractByHash struct {
	Hash       string     `json:"hash"`
	EntryPoint string     `json:"entry_point"`
	Args       []NamedArg `json:"args"`
}

// NamedArg is a (name, value) runtime argument. The node expects the pair
// encoded as a two element JSON array.
type NamedArg struct {
	Name  string
	Value CLValue
}

func (a NamedArg) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{a.Name, a.Value})
}

func (a *NamedArg) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return errMalformedNamedArg
	}
	if err := json.Unmarshal(pair[0], &a.Name); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &a.Value)
}

// CLValue is a typed value in Casper's serialization scheme. Bytes holds the
// hex encoded canonical serialization, Parsed the human readable form.
type CLValue struct {
	CLType string          `json:"cl_type"`
	Bytes  string          `json:"bytes"`
	Parsed json.RawMessage `json:"parsed,omitempty"`
}

type putDeployParams struct {
	Deploy Deploy `json:"deploy"`
}

type putDeployResult struct {
	DeployHash string `json:"deploy_hash"`
}

type getDeployParams struct {
	DeployHash string `json:"deploy_hash"`
}

type getDeployResult struct {
	Deploy           Deploy            `json:"deploy"`
	ExecutionResults []executionResult `json:"execution_results"`
}

type executionResult struct {
	BlockHash string              `json:"block_hash"`
	Result    executionResultBody `json:"result"`
}

type executionResultBody struct {
	Success *struct {
		Cost string `json:"cost"`
	} `json:"Success,omitempty"`
	Failure *struct {
		ErrorMessage string `json:"error_message"`
	} `json:"Failure,omitempty"`
}

type queryGlobalStateParams struct {
	StateIdentifier map[string]interface{} `json:"state_identifier,omitempty"`
	Key             string                 `json:"key"`
	Path            []string               `json:"path"`
}

type queryGlobalStateResult struct {
	StoredValue storedValue `json:"stored_value"`
}

type storedValue struct {
	CLValue *CLValue `json:"CLValue,omitempty"`
}
