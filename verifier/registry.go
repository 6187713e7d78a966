// Package verifier checks the registry lookups the node selector issues. The
// checks are structural: a node list has to be well formed, within the
// requested limit and issued by the expected registry; a whitelist has to come
// from the contract that was asked for.
package verifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/errcode"
	"trustclient/nodelist"
	"trustclient/plugin"
)

const (
	methodNodeList  = "in3_nodeList"
	methodWhitelist = "in3_whiteList"
)

// Expectation is what a chain's registry lookups must match. Zero values are
// not checked.
type Expectation struct {
	Contract   common.Address
	RegistryID common.Hash
}

// Registry verifies in3_nodeList and in3_whiteList results.
type Registry struct {
	chains map[uint64]Expectation
}

var _ plugin.Verifier = (*Registry)(nil)

// NewRegistry returns a verifier. chains may be nil.
func NewRegistry(chains map[uint64]Expectation) *Registry {
	if chains == nil {
		chains = map[uint64]Expectation{}
	}
	return &Registry{chains: chains}
}

// Verify implements plugin.Verifier.
func (r *Registry) Verify(v *plugin.Verification) error {
	if v.Request == nil || v.Response == nil {
		return plugin.ErrNotHandled
	}
	switch v.Request.Method {
	case methodNodeList:
		return r.verifyNodeList(v)
	case methodWhitelist:
		return r.verifyWhitelist(v)
	}
	return plugin.ErrNotHandled
}

func (r *Registry) verifyNodeList(v *plugin.Verification) error {
	res, err := nodelist.ParseNodeListResult(v.Response.Result)
	if err != nil {
		return err
	}
	var params []json.RawMessage
	if len(v.Request.Params) > 0 {
		if err := json.Unmarshal(v.Request.Params, &params); err != nil {
			return errcode.Wrap(errcode.Invalid, "invalid node list params", err)
		}
	}
	if len(params) > 0 {
		var limit int
		if err := json.Unmarshal(params[0], &limit); err != nil {
			return errcode.Wrap(errcode.Invalid, "invalid node limit", err)
		}
		if limit > 0 && len(res.Nodes) > limit {
			return errcode.Newf(errcode.InvalidData, "node list holds %d nodes but only %d were requested", len(res.Nodes), limit)
		}
	}

	seen := make(map[common.Address]struct{}, len(res.Nodes))
	for i, n := range res.Nodes {
		if _, dup := seen[*n.Address]; dup {
			return errcode.Newf(errcode.InvalidData, "node %d: duplicate address %s", i, n.Address.Hex())
		}
		seen[*n.Address] = struct{}{}
		if !strings.HasPrefix(n.URL, "http://") && !strings.HasPrefix(n.URL, "https://") {
			return errcode.Newf(errcode.InvalidData, "node %d: unsupported url %q", i, n.URL)
		}
	}

	exp := r.chains[v.ChainID]
	if exp.Contract != (common.Address{}) && res.Contract != (common.Address{}) && res.Contract != exp.Contract {
		return errcode.New(errcode.InvalidData, fmt.Sprintf("wrong registry contract %s", res.Contract.Hex()))
	}
	if exp.RegistryID != (common.Hash{}) && res.RegistryID != (common.Hash{}) && res.RegistryID != exp.RegistryID {
		return errcode.New(errcode.InvalidData, fmt.Sprintf("wrong registry id %s", res.RegistryID.Hex()))
	}
	return nil
}

func (r *Registry) verifyWhitelist(v *plugin.Verification) error {
	res, err := nodelist.ParseWhitelistResult(v.Response.Result)
	if err != nil {
		return errcode.Wrap(errcode.InvalidData, "invalid whitelist response", err)
	}
	var params []string
	if err := json.Unmarshal(v.Request.Params, &params); err != nil || len(params) == 0 {
		return errcode.New(errcode.Invalid, "whitelist request without contract")
	}
	if !common.IsHexAddress(params[0]) {
		return errcode.Newf(errcode.Invalid, "invalid whitelist contract %q", params[0])
	}
	if want := common.HexToAddress(params[0]); res.Contract != want {
		return errcode.Newf(errcode.InvalidData, "whitelist of %s returned for %s", res.Contract.Hex(), want.Hex())
	}
	return nil
}
