package nodelist

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"pgregory.net/rapid"

	"trustclient/errcode"
)

func TestPickWeightedScenario(t *testing.T) {
	r := newTestRegistry(t, 3)
	setWeights(t, r, latencyWeight(10), latencyWeight(10), latencyWeight(80))
	rnd := rand.New(rand.NewSource(7))

	hits := make(map[common.Address]int)
	for i := 0; i < 10000; i++ {
		got, err := r.Pick(testNow, rnd, 1, Filter{}, PickOptions{})
		if err != nil {
			t.Fatalf("pick %d: %v", i, err)
		}
		if len(got) != 1 {
			t.Fatalf("pick %d returned %d nodes", i, len(got))
		}
		hits[got[0].Address]++
	}
	if n := hits[addr(2)]; n < 7700 || n > 8300 {
		t.Fatalf("heavy node picked %d times, want 8000 +- 300", n)
	}
}

func TestPickFrequencyFollowsWeights(t *testing.T) {
	r := newTestRegistry(t, 2)
	setWeights(t, r, latencyWeight(20), latencyWeight(60))
	rnd := rand.New(rand.NewSource(99))

	const draws = 20000
	second := 0
	for i := 0; i < draws; i++ {
		got, err := r.Pick(testNow, rnd, 1, Filter{}, PickOptions{})
		if err != nil {
			t.Fatalf("pick: %v", err)
		}
		if got[0].Address == addr(1) {
			second++
		}
	}
	if second < 14500 || second > 15500 {
		t.Fatalf("expected a 1:3 ratio, second node picked %d of %d", second, draws)
	}
}

func TestPickNeverReturnsBlacklistedNodes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "nodes").(int)
		r := NewRegistry(1, common.Address{}, common.Hash{})
		for i := 0; i < n; i++ {
			props := Props(rapid.Uint64Range(0, 0x1FF).Draw(t, "props").(uint64))
			r.Upsert(Node{Address: addr(i), URL: "https://n", Props: props, Capacity: 1})
		}
		blacklisted := make(map[common.Address]bool)
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(t, "blacklist").(bool) {
				r.Blacklist(addr(i), testNow.Add(time.Hour))
				blacklisted[addr(i)] = true
			}
		}
		filter := Filter{Props: Props(rapid.Uint64Range(0, 0xFF).Draw(t, "filter").(uint64))}
		count := rapid.IntRange(1, 5).Draw(t, "count").(int)
		seed := rapid.Int64().Draw(t, "seed").(int64)

		snapshot := r.Weights()
		got, err := r.Pick(testNow, rand.New(rand.NewSource(seed)), count, filter, PickOptions{})
		if err != nil {
			if !errors.Is(err, ErrNoNodes) {
				t.Fatalf("unexpected error %v", err)
			}
			return
		}
		if len(got) > count {
			t.Fatalf("picked %d nodes, asked for %d", len(got), count)
		}
		seen := make(map[common.Address]bool)
		for _, m := range got {
			if seen[m.Address] {
				t.Fatalf("node %s picked twice", m.Address)
			}
			seen[m.Address] = true
			if w := r.Weight(m.Index); w.IsBlacklisted(testNow) {
				t.Fatalf("blacklisted node %s picked", m.Address)
			}
			if snapshot[m.Index].IsBlacklisted(testNow) && r.BlacklistedCount(testNow) != 0 {
				t.Fatalf("node %s picked while still blacklisted", m.Address)
			}
		}
	})
}

func TestPickResetsBlacklistWhenMajorityBlocked(t *testing.T) {
	r := newTestRegistry(t, 3)
	r.Blacklist(addr(0), testNow.Add(time.Hour))
	r.Blacklist(addr(1), testNow.Add(time.Hour))
	got, err := r.Pick(testNow, rand.New(rand.NewSource(1)), 1, Filter{Nodes: []common.Address{addr(0)}}, PickOptions{})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if got[0].Address != addr(0) {
		t.Fatalf("expected released node, got %s", got[0].Address)
	}
	if r.BlacklistedCount(testNow) != 0 {
		t.Fatalf("blacklists should have been cleared")
	}
}

func TestPickFailsWithoutMajorityBlocked(t *testing.T) {
	r := newTestRegistry(t, 3)
	r.Blacklist(addr(0), testNow.Add(time.Hour))
	_, err := r.Pick(testNow, rand.New(rand.NewSource(1)), 1, Filter{Nodes: []common.Address{addr(0)}}, PickOptions{})
	if errcode.CodeOf(err) != errcode.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if r.BlacklistedCount(testNow) != 1 {
		t.Fatalf("blacklist must survive a minority")
	}
}

func TestPickFilters(t *testing.T) {
	r := newTestRegistry(t, 4)
	nodes := r.Nodes()
	nodes[0].Deposit = 1
	nodes[1].Props = PropData
	nodes[2].Props = DefaultProps.WithMinBlockHeight(10)
	if err := r.Replace(nodes, r.Weights()); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := r.Pick(testNow, nil, 4, Filter{
		Props:      (PropProof | PropData).WithMinBlockHeight(6),
		Exclusions: []common.Address{addr(3)},
	}, PickOptions{MinDeposit: 10})
	if errcode.CodeOf(err) != errcode.NotFound {
		t.Fatalf("expected nothing to match, got %v (%v)", got, err)
	}

	got, err = r.Pick(testNow, nil, 4, Filter{Props: PropProof | PropData}, PickOptions{MinDeposit: 10, HTTPOnly: true})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if len(got) != 2 || got[0].Address != addr(2) || got[1].Address != addr(3) {
		t.Fatalf("unexpected matches %+v", got)
	}
	if got[0].URL != "http://node2.example" {
		t.Fatalf("url not rewritten: %s", got[0].URL)
	}
}

func TestBootNodesSkipFiltersButNotBlacklist(t *testing.T) {
	r := NewRegistry(1, common.Address{}, common.Hash{})
	r.Upsert(Node{Address: addr(1), URL: "https://boot", Attrs: AttrBootNode})
	r.Upsert(Node{Address: addr(2), URL: "https://other", Props: DefaultProps})
	r.Whitelist = &Whitelist{Addresses: []common.Address{addr(2)}}
	r.ApplyWhitelist()

	got, err := r.Pick(testNow, nil, 2, Filter{Props: PropProof}, PickOptions{MinDeposit: 5})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if len(got) != 1 || got[0].Address != addr(1) {
		t.Fatalf("expected only the boot node, got %+v", got)
	}

	r.Blacklist(addr(1), testNow.Add(time.Hour))
	r.Upsert(Node{Address: addr(3), URL: "https://third", Props: DefaultProps})
	_, err = r.Pick(testNow, nil, 1, Filter{Nodes: []common.Address{addr(1)}}, PickOptions{})
	if !errors.Is(err, ErrNoNodes) {
		t.Fatalf("blacklisted boot node must not be picked: %v", err)
	}
}

func TestPickWithZeroWeightsTakesRegistryOrder(t *testing.T) {
	r := newTestRegistry(t, 3)
	until := unix(testNow.Add(-time.Second))
	setWeights(t, r, Weight{BlacklistedUntil: until}, Weight{BlacklistedUntil: until}, Weight{BlacklistedUntil: until})
	got, err := r.Pick(testNow, rand.New(rand.NewSource(3)), 2, Filter{}, PickOptions{})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if len(got) != 2 || got[0].Address != addr(0) || got[1].Address != addr(1) {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestPreselectionDroppedWhenNothingMatches(t *testing.T) {
	r := newTestRegistry(t, 3)
	r.SetPreselection([]common.Address{addr(0)})
	got, err := r.Pick(testNow, nil, 1, Filter{Nodes: []common.Address{addr(2)}}, PickOptions{})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if got[0].Address != addr(2) || len(r.Preselection()) != 0 {
		t.Fatalf("preselection not dropped: %+v", got)
	}
}
