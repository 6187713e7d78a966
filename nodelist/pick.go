package nodelist

import (
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mroth/weightedrand"

	"trustclient/errcode"
)

// Filter narrows the set of nodes eligible for a pick.
type Filter struct {
	// Props lists required capabilities.
	Props Props
	// Nodes restricts the pick to these addresses when not empty.
	Nodes []common.Address
	// Exclusions are never picked.
	Exclusions []common.Address
	// SkipWhitelist lets non whitelisted nodes serve registry lookups.
	SkipWhitelist bool
}

// PickOptions carry client level settings applied to every pick.
type PickOptions struct {
	MinDeposit uint64
	HTTPOnly   bool
}

// Match is a picked node.
type Match struct {
	Index   int
	Address common.Address
	URL     string
	Weight  uint32
}

// ErrNoNodes is returned when no node satisfies the filter.
var ErrNoNodes = errcode.New(errcode.NotFound, "no nodes found matching criteria")

func contains(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

// eligible returns the nodes that may serve a request at now.
func (r *Registry) eligible(now time.Time, f Filter, opts PickOptions) []Match {
	var out []Match
	for i := range r.nodes {
		n := &r.nodes[i]
		if len(r.preselect) > 0 && !contains(r.preselect, n.Address) {
			continue
		}
		if len(f.Nodes) > 0 && !contains(f.Nodes, n.Address) {
			continue
		}
		if contains(f.Exclusions, n.Address) {
			continue
		}
		w := r.weights[i]
		if w.IsBlacklisted(now) {
			continue
		}
		if !n.IsBootNode() {
			if r.Whitelist != nil && !f.SkipWhitelist && !n.IsWhitelisted() {
				continue
			}
			if n.Deposit < opts.MinDeposit {
				continue
			}
			if !f.Props.Matches(n.Props) {
				continue
			}
		}
		url := n.URL
		if opts.HTTPOnly {
			url = HTTPURL(url)
		}
		out = append(out, Match{
			Index:   i,
			Address: n.Address,
			URL:     url,
			Weight:  CalculateWeight(w, n.Capacity, now),
		})
	}
	return out
}

// Pick selects up to count distinct nodes, biased by weight. now is sampled
// once by the caller so a pick is deterministic for a registry snapshot and a
// seeded rnd.
//
// If nothing is eligible while more than half of all nodes are blacklisted,
// every blacklisting and the preselection are dropped and the pick is retried
// once. This keeps the client usable after a burst of failures but lets a
// majority of misbehaving nodes force their way back into rotation.
func (r *Registry) Pick(now time.Time, rnd *rand.Rand, count int, f Filter, opts PickOptions) ([]Match, error) {
	if count <= 0 {
		count = 1
	}
	found := r.eligible(now, f, opts)
	if len(found) == 0 && (r.BlacklistedCount(now) > r.Len()/2 || len(r.preselect) > 0) {
		r.ClearBlacklists()
		r.preselect = nil
		found = r.eligible(now, f, opts)
	}
	if len(found) == 0 {
		return nil, ErrNoNodes
	}
	if len(found) <= count {
		return found, nil
	}

	picked := make([]Match, 0, count)
	remaining := found
	for draws := 0; len(picked) < count && draws < 10*count && len(remaining) > 0; draws++ {
		i := drawIndex(remaining, rnd)
		picked = append(picked, remaining[i])
		next := make([]Match, 0, len(remaining)-1)
		next = append(next, remaining[:i]...)
		remaining = append(next, remaining[i+1:]...)
	}
	return picked, nil
}

// drawIndex draws one position of ms proportionally to its weight. If all
// weights are zero the first entry wins.
func drawIndex(ms []Match, rnd *rand.Rand) int {
	choices := make([]weightedrand.Choice, len(ms))
	for i, m := range ms {
		choices[i] = weightedrand.NewChoice(i, uint(m.Weight))
	}
	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		return 0
	}
	if rnd == nil {
		return chooser.Pick().(int)
	}
	return chooser.PickSource(rnd).(int)
}
