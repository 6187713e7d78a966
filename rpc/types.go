package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Version is the JSON-RPC protocol version written into every envelope.
const Version = "2.0"

// Request is a single JSON-RPC call as sent to a node.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	In3     *RequestMeta    `json:"in3,omitempty"`
}

// RequestMeta is the out-of-band section a minimal-trust client attaches to a
// request. Only the fields the caller set are serialized.
type RequestMeta struct {
	ChainID        Quantity         `json:"chainId,omitempty"`
	Verification   string           `json:"verification,omitempty"`
	Version        string           `json:"version,omitempty"`
	Finality       uint16           `json:"finality,omitempty"`
	LatestBlock    uint16           `json:"latestBlock,omitempty"`
	Signers        []common.Address `json:"signers,omitempty"`
	DataNodes      []common.Address `json:"dataNodes,omitempty"`
	SignerNodes    []common.Address `json:"signerNodes,omitempty"`
	VerifiedHashes []common.Hash    `json:"verifiedHashes,omitempty"`
	RPC            string           `json:"rpc,omitempty"`
}

// Response is one answer inside a node reply.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	In3     *ResponseMeta   `json:"in3,omitempty"`
}

// ResponseMeta carries the side-channel claims a node attaches to a response.
type ResponseMeta struct {
	LastNodeList        Quantity        `json:"lastNodeList,omitempty"`
	LastWhiteList       Quantity        `json:"lastWhiteList,omitempty"`
	LastValidatorChange Quantity        `json:"lastValidatorChange,omitempty"`
	CurrentBlock        Quantity        `json:"currentBlock,omitempty"`
	Version             string          `json:"version,omitempty"`
	Proof               json.RawMessage `json:"proof,omitempty"`
}

// HasResult reports whether the response carries a result and no error.
func (r *Response) HasResult() bool {
	return r != nil && r.Error == nil && len(r.Result) > 0
}

// Error is a JSON-RPC error object. Some nodes return a bare string instead of
// an object; both forms decode into Message.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// UnmarshalJSON accepts both the object form and a plain string.
func (e *Error) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "\"") {
		var msg string
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		*e = Error{Code: -32603, Message: msg}
		return nil
	}
	type plain Error
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*e = Error(out)
	return nil
}

// nodeErrorPrefixes mark messages produced by a failing node rather than by a
// request the node correctly rejected.
var nodeErrorPrefixes = []string{"Error:", "TypeError:", "Error connect"}

// IsUserError reports whether the error was caused by the request itself, so the
// answering node must not be punished for it.
func (e *Error) IsUserError() bool {
	if e == nil || e.Message == "" {
		return false
	}
	for _, prefix := range nodeErrorPrefixes {
		if strings.HasPrefix(e.Message, prefix) {
			return false
		}
	}
	return true
}

// NewRequest builds a request with marshalled params.
func NewRequest(method string, params ...any) (*Request, error) {
	if params == nil {
		params = []any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return &Request{JSONRPC: Version, Method: method, Params: raw}, nil
}
