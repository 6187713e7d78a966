// Package plugin declares the capabilities the request engine delegates to:
// moving bytes to nodes, verifying answers, persisting state and signing.
package plugin

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/rpc"
)

// TransportRequest is one serialized payload addressed to one or more nodes.
type TransportRequest struct {
	Payload []byte
	URLs    []string
	Method  string
}

// TransportResponse is the outcome for a single URL.
type TransportResponse struct {
	Data     []byte
	Err      error
	Duration time.Duration
}

// Transport delivers payloads. Send must return exactly one response per URL,
// in URL order. Timeouts are the implementation's concern.
type Transport interface {
	Send(ctx context.Context, req *TransportRequest) []TransportResponse
}

// Environment gives a verifier access to auxiliary data. Both methods return
// errcode.ErrWaiting until the data is available.
type Environment interface {
	Require(req *rpc.Request) (*rpc.Response, error)
	RequireSignature(message []byte, account common.Address) ([]byte, error)
}

// Verification describes one response to check.
type Verification struct {
	ChainID  uint64
	Proof    string
	Request  *rpc.Request
	Response *rpc.Response
	Node     common.Address
	Env      Environment

	// DontBlacklist is set by a verifier when a failure is not the node's fault.
	DontBlacklist bool
	// VerifiedHashes collects block hashes the verifier proved along the way.
	VerifiedHashes []VerifiedHash
}

// VerifiedHash is a block hash that was proven once and can be trusted later.
type VerifiedHash struct {
	Block uint64
	Hash  common.Hash
}

// Verifier checks a response. It returns ErrNotHandled for methods it does
// not know about.
type Verifier interface {
	Verify(v *Verification) error
}

// Cache is a best-effort key value store.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Clear() error
}

// Digest selects how a message is hashed before signing.
type Digest int

const (
	DigestRaw Digest = iota
	DigestKeccak
	DigestEthMessage
)

// SignRequest asks for a signature of Message by Account.
type SignRequest struct {
	Message []byte
	Account common.Address
	Digest  Digest
}

// Signer produces 65 byte recoverable signatures.
type Signer interface {
	Sign(ctx context.Context, req *SignRequest) ([]byte, error)
	Accounts() []common.Address
}
