package nodelist

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"trustclient/errcode"
	"trustclient/rpc"
)

// NodeInfo is one entry of an in3_nodeList result.
type NodeInfo struct {
	URL          string          `json:"url"`
	Address      *common.Address `json:"address"`
	Index        *rpc.Quantity   `json:"index"`
	Deposit      *Amount         `json:"deposit"`
	Props        *rpc.Quantity   `json:"props"`
	Capacity     *rpc.Quantity   `json:"capacity"`
	RegisterTime rpc.Quantity    `json:"registerTime"`
}

// NodeListResult is the answer to an in3_nodeList request.
type NodeListResult struct {
	Nodes           []NodeInfo     `json:"nodes"`
	Contract        common.Address `json:"contract"`
	RegistryID      common.Hash    `json:"registryId"`
	LastBlockNumber *rpc.Quantity  `json:"lastBlockNumber"`
	TotalServers    rpc.Quantity   `json:"totalServers"`
}

// ParseNodeListResult decodes and checks the shape of a node list result.
func ParseNodeListResult(raw json.RawMessage) (*NodeListResult, error) {
	var res NodeListResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errcode.Wrap(errcode.InvalidData, "invalid nodelist response", err)
	}
	if res.Nodes == nil || res.LastBlockNumber == nil {
		return nil, errcode.New(errcode.InvalidData, "invalid response")
	}
	for i, n := range res.Nodes {
		if n.Address == nil {
			return nil, errcode.Newf(errcode.InvalidData, "node %d: missing address", i)
		}
		if n.URL == "" {
			return nil, errcode.Newf(errcode.InvalidData, "node %d: missing url", i)
		}
	}
	return &res, nil
}

// ApplyNodeList replaces the node table with a fetched list. Responses not
// newer than LastBlock leave the registry untouched and return false. Known
// nodes keep their weights; nodes registered less than a Day ago start
// blacklisted until that day is over.
func (r *Registry) ApplyNodeList(res *NodeListResult, now time.Time) (bool, error) {
	if res == nil || res.LastBlockNumber == nil {
		return false, errcode.New(errcode.InvalidData, "invalid response")
	}
	lastBlock := uint64(*res.LastBlockNumber)
	if lastBlock <= r.LastBlock {
		return false, nil
	}

	ts := unix(now)
	day := uint64(Day / time.Second)
	nodes := make([]Node, len(res.Nodes))
	weights := make([]Weight, len(res.Nodes))
	for i, info := range res.Nodes {
		if info.Address == nil || info.URL == "" {
			return false, fmt.Errorf("node %d: %w", i, errcode.New(errcode.InvalidData, "missing address or url"))
		}
		n := Node{
			Address:  *info.Address,
			URL:      info.URL,
			Capacity: 1,
			Index:    uint32(i),
			Deposit:  saturate(info.Deposit),
			Props:    DefaultProps,
		}
		if info.Capacity != nil {
			n.Capacity = uint32(*info.Capacity)
		}
		if info.Index != nil {
			n.Index = uint32(*info.Index)
		}
		if info.Props != nil {
			n.Props = Props(*info.Props)
		}
		nodes[i] = n

		if j := r.IndexOf(n.Address); j >= 0 {
			weights[i] = r.weights[j]
		}
		reg := uint64(info.RegisterTime)
		if ts > reg && reg+day > ts && reg+day > weights[i].BlacklistedUntil {
			weights[i].BlacklistedUntil = reg + day
		}
	}

	r.nodes = nodes
	r.weights = weights
	r.LastBlock = lastBlock
	if res.Contract != (common.Address{}) {
		r.Contract = res.Contract
	}
	if res.RegistryID != (common.Hash{}) {
		r.RegistryID = res.RegistryID
	}
	r.ApplyWhitelist()
	r.dirty = true
	return true, nil
}

// Amount is a 256-bit wei value written as a hex or decimal string or number.
type Amount struct {
	uint256.Int
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := strings.TrimLeft(s[2:], "0")
		if digits == "" {
			a.Clear()
			return nil
		}
		return a.SetFromHex("0x" + digits)
	}
	return a.SetFromDecimal(s)
}

// saturate converts a wei amount to uint64, clamping values that do not fit.
func saturate(v *Amount) uint64 {
	if v == nil {
		return 0
	}
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}
