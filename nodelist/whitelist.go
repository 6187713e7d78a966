package nodelist

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/rpc"
)

// Whitelist restricts a chain to a set of trusted node addresses. A whitelist
// without contract is configured by hand and never refreshed.
type Whitelist struct {
	Contract    common.Address
	Addresses   []common.Address
	LastBlock   uint64
	NeedsUpdate bool
}

// IsManual reports whether the whitelist is maintained by configuration.
func (w *Whitelist) IsManual() bool { return w.Contract == (common.Address{}) }

// Contains reports whether addr is whitelisted.
func (w *Whitelist) Contains(addr common.Address) bool { return contains(w.Addresses, addr) }

// ApplyWhitelist recomputes the whitelisted attribute of every node.
func (r *Registry) ApplyWhitelist() {
	for i := range r.nodes {
		r.nodes[i].Attrs &^= AttrWhitelisted
		if r.Whitelist != nil && r.Whitelist.Contains(r.nodes[i].Address) {
			r.nodes[i].Attrs |= AttrWhitelisted
		}
	}
	r.dirty = true
}

// WhitelistResult is the answer to an in3_whiteList request.
type WhitelistResult struct {
	Nodes           []common.Address `json:"nodes"`
	Contract        common.Address   `json:"contract"`
	LastBlockNumber rpc.Quantity     `json:"lastBlockNumber"`
	TotalServers    rpc.Quantity     `json:"totalServers,omitempty"`
}

// ParseWhitelistResult decodes the result of an in3_whiteList request.
func ParseWhitelistResult(raw json.RawMessage) (*WhitelistResult, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode whitelist: %w", err)
	}
	if _, ok := probe["nodes"]; !ok {
		return nil, fmt.Errorf("decode whitelist: no nodes")
	}
	if _, ok := probe["lastBlockNumber"]; !ok {
		return nil, fmt.Errorf("decode whitelist: no lastBlockNumber")
	}
	var res WhitelistResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode whitelist: %w", err)
	}
	return &res, nil
}

// ApplyWhitelistResult replaces the whitelisted addresses when the result is
// newer than the current one. It reports whether anything changed.
func (r *Registry) ApplyWhitelistResult(res *WhitelistResult) (bool, error) {
	if r.Whitelist == nil {
		return false, fmt.Errorf("chain %d has no whitelist", r.ChainID)
	}
	wl := r.Whitelist
	wl.NeedsUpdate = false
	if uint64(res.LastBlockNumber) <= wl.LastBlock {
		return false, nil
	}
	wl.LastBlock = uint64(res.LastBlockNumber)
	wl.Addresses = append([]common.Address(nil), res.Nodes...)
	r.ApplyWhitelist()
	return true, nil
}
