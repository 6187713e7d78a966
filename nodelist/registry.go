// Package nodelist keeps the per-chain table of known nodes together with
// their reliability records and picks weighted subsets of them for requests.
//
// Node and weight entries are stored in two slices that always have the same
// length and order. Every mutation goes through a Registry method so the
// pairing can never drift. A Registry is not safe for concurrent use; the
// request engine drives it from a single loop.
package nodelist

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/plugin"
)

const (
	// Day is the window in which freshly registered nodes stay blacklisted.
	Day = 24 * time.Hour
	// RecoveryWindow is how long a node's weight stays reduced after its
	// blacklisting expired.
	RecoveryWindow = 7 * Day
	// DefaultMaxVerifiedHashes bounds the verified hash list.
	DefaultMaxVerifiedHashes = 5
)

// UpdateParams describe a pending node list update: which node claimed a
// change, the block it claimed and the earliest time to fetch it. An
// ExpectedLastBlock of zero marks the bootstrap update.
type UpdateParams struct {
	Node              common.Address
	ExpectedLastBlock uint64
	Timestamp         uint64
}

// IsFirst reports whether this is the bootstrap update.
func (u *UpdateParams) IsFirst() bool { return u != nil && u.ExpectedLastBlock == 0 }

// Registry is the node table of one chain.
type Registry struct {
	ChainID      uint64
	Contract     common.Address
	RegistryID   common.Hash
	AvgBlockTime uint16
	LastBlock    uint64
	Whitelist    *Whitelist
	Update       *UpdateParams

	VerifiedHashes    []plugin.VerifiedHash
	MaxVerifiedHashes int

	nodes     []Node
	weights   []Weight
	preselect []common.Address
	dirty     bool
}

// NewRegistry returns an empty registry.
func NewRegistry(chainID uint64, contract common.Address, registryID common.Hash) *Registry {
	return &Registry{
		ChainID:           chainID,
		Contract:          contract,
		RegistryID:        registryID,
		AvgBlockTime:      15,
		MaxVerifiedHashes: DefaultMaxVerifiedHashes,
	}
}

// Len returns the number of nodes.
func (r *Registry) Len() int { return len(r.nodes) }

// Node returns the node at index i.
func (r *Registry) Node(i int) Node { return r.nodes[i] }

// Weight returns the weight at index i.
func (r *Registry) Weight(i int) Weight { return r.weights[i] }

// Nodes returns a copy of the node table.
func (r *Registry) Nodes() []Node { return append([]Node(nil), r.nodes...) }

// Weights returns a copy of the weight table.
func (r *Registry) Weights() []Weight { return append([]Weight(nil), r.weights...) }

// IndexOf returns the position of addr or -1.
func (r *Registry) IndexOf(addr common.Address) int {
	for i := range r.nodes {
		if r.nodes[i].Address == addr {
			return i
		}
	}
	return -1
}

// Upsert adds a node or updates url, props and attributes of a known one.
// A known node keeps its weight.
func (r *Registry) Upsert(n Node) {
	if i := r.IndexOf(n.Address); i >= 0 {
		existing := &r.nodes[i]
		existing.URL = n.URL
		existing.Props = n.Props
		existing.Attrs |= n.Attrs
		if n.Capacity != 0 {
			existing.Capacity = n.Capacity
		}
		r.dirty = true
		return
	}
	r.nodes = append(r.nodes, n)
	r.weights = append(r.weights, Weight{})
	r.dirty = true
}

// Remove deletes the node with addr and its weight.
func (r *Registry) Remove(addr common.Address) bool {
	i := r.IndexOf(addr)
	if i < 0 {
		return false
	}
	r.nodes = append(r.nodes[:i], r.nodes[i+1:]...)
	r.weights = append(r.weights[:i], r.weights[i+1:]...)
	r.dirty = true
	return true
}

// Replace swaps both tables at once.
func (r *Registry) Replace(nodes []Node, weights []Weight) error {
	if len(nodes) != len(weights) {
		return fmt.Errorf("replace: %d nodes but %d weights", len(nodes), len(weights))
	}
	r.nodes = append([]Node(nil), nodes...)
	r.weights = append([]Weight(nil), weights...)
	r.dirty = true
	return nil
}

// Blacklist excludes the node with addr until the given time. Returns false
// for unknown nodes.
func (r *Registry) Blacklist(addr common.Address, until time.Time) bool {
	i := r.IndexOf(addr)
	if i < 0 {
		return false
	}
	r.weights[i].BlacklistedUntil = unix(until)
	r.dirty = true
	return true
}

// ClearBlacklists lifts every blacklisting.
func (r *Registry) ClearBlacklists() {
	for i := range r.weights {
		r.weights[i].BlacklistedUntil = 0
	}
	r.dirty = true
}

// BlacklistedCount returns how many nodes are excluded at now.
func (r *Registry) BlacklistedCount(now time.Time) int {
	n := 0
	for _, w := range r.weights {
		if w.IsBlacklisted(now) {
			n++
		}
	}
	return n
}

// RecordResponse adds one observed response time for addr.
func (r *Registry) RecordResponse(addr common.Address, took time.Duration) {
	i := r.IndexOf(addr)
	if i < 0 {
		return
	}
	ms := took.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	w := &r.weights[i]
	w.ResponseCount++
	w.TotalResponseTime += uint32(ms)
	r.dirty = true
}

// SetPreselection restricts picks to the given addresses until the next
// blacklist reset. An empty list removes the restriction.
func (r *Registry) SetPreselection(addrs []common.Address) {
	r.preselect = append([]common.Address(nil), addrs...)
}

// Preselection returns the current address restriction.
func (r *Registry) Preselection() []common.Address {
	return append([]common.Address(nil), r.preselect...)
}

// AddVerifiedHash remembers a proven block hash, keeping the newest entries.
func (r *Registry) AddVerifiedHash(h plugin.VerifiedHash) {
	for _, existing := range r.VerifiedHashes {
		if existing.Block == h.Block {
			return
		}
	}
	r.VerifiedHashes = append(r.VerifiedHashes, h)
	limit := r.MaxVerifiedHashes
	if limit <= 0 {
		limit = DefaultMaxVerifiedHashes
	}
	if over := len(r.VerifiedHashes) - limit; over > 0 {
		r.VerifiedHashes = append([]plugin.VerifiedHash(nil), r.VerifiedHashes[over:]...)
	}
	r.dirty = true
}

// Dirty reports whether the registry changed since the last MarkClean.
func (r *Registry) Dirty() bool { return r.dirty }

// MarkClean resets the dirty flag after persisting.
func (r *Registry) MarkClean() { r.dirty = false }
