// Package request drives one logical client call, possibly a JSON-RPC batch,
// from creation to a verified result. A Context never blocks: Execute either
// finishes, fails, or reports that it waits for input which the caller
// supplies through Deliver or DeliverSignature before calling Execute again.
package request

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/errcode"
	"trustclient/nodelist"
	"trustclient/plugin"
)

// Proof selects how much verification is requested from nodes.
type Proof int

const (
	ProofNone Proof = iota
	ProofStandard
	ProofFull
)

// ParseProof reads none, standard or full.
func ParseProof(s string) (Proof, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "never":
		return ProofNone, nil
	case "standard", "proof":
		return ProofStandard, nil
	case "full":
		return ProofFull, nil
	}
	return ProofNone, fmt.Errorf("unknown proof level %q", s)
}

func (p Proof) String() string {
	switch p {
	case ProofStandard:
		return "standard"
	case ProofFull:
		return "full"
	default:
		return "none"
	}
}

// verification is the value sent in the in3 section.
func (p Proof) verification() string {
	if p == ProofNone {
		return "never"
	}
	return "proof"
}

// Config holds per client request settings.
type Config struct {
	ChainID        uint64
	Proof          Proof
	MaxAttempts    int
	SignatureCount int
	Finality       uint16
	LatestBlock    uint16
	Version        string
}

// DefaultMaxAttempts bounds the attempts of one request.
const DefaultMaxAttempts = 7

// NodeSelector chooses nodes for a context and keeps their records. Methods
// may add required contexts to c and return errcode.ErrWaiting.
type NodeSelector interface {
	PickData(c *Context) ([]nodelist.Match, error)
	PickSigners(c *Context, data []nodelist.Match) ([]nodelist.Match, error)
	Blacklist(c *Context, node common.Address, reason string)
	Followup(c *Context, node nodelist.Match)
	HandleFailable(c *Context, child *Context) error
	AddVerifiedHashes(chainID uint64, hashes []plugin.VerifiedHash)
	VerifiedHashes(chainID uint64) []common.Hash
}

// Env is shared by every context a client creates.
type Env struct {
	Config   Config
	Plugins  *plugin.Set
	Selector NodeSelector
	Logger   *slog.Logger
	// MaxPending bounds the number of live contexts. Zero disables the limit.
	MaxPending int

	pending atomic.Int64
	nextID  atomic.Uint64
}

// Pending returns the number of contexts not yet freed.
func (e *Env) Pending() int { return int(e.pending.Load()) }

func (e *Env) acquire() error {
	n := e.pending.Add(1)
	if e.MaxPending > 0 && n > int64(e.MaxPending) {
		e.pending.Add(-1)
		return errcode.Newf(errcode.Limit, "too many pending requests (max %d)", e.MaxPending)
	}
	return nil
}

func (e *Env) release() { e.pending.Add(-1) }

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Env) maxAttempts() int {
	if e.Config.MaxAttempts > 0 {
		return e.Config.MaxAttempts
	}
	return DefaultMaxAttempts
}
