package nodelist

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"trustclient/plugin"
)

func TestParallelArraysSurviveMutations(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry(1, addr(9999), [32]byte{})
		ops := rapid.SliceOfN(rapid.IntRange(0, 4), 1, 60).Draw(t, "ops").([]int)
		for step, op := range ops {
			target := addr(rapid.IntRange(0, 12).Draw(t, "node").(int))
			switch op {
			case 0:
				r.Upsert(Node{Address: target, URL: "https://x"})
			case 1:
				r.Remove(target)
			case 2:
				r.Blacklist(target, testNow.Add(time.Hour))
			case 3:
				r.RecordResponse(target, 120*time.Millisecond)
			case 4:
				nodes := r.Nodes()
				if len(nodes) > 0 {
					nodes = nodes[:len(nodes)-1]
				}
				ws := make([]Weight, len(nodes))
				if err := r.Replace(nodes, ws); err != nil {
					t.Fatalf("step %d: replace: %v", step, err)
				}
			}
			if len(r.nodes) != len(r.weights) {
				t.Fatalf("step %d: %d nodes vs %d weights", step, len(r.nodes), len(r.weights))
			}
		}
	})
}

func TestReplaceRejectsMismatchedLengths(t *testing.T) {
	r := newTestRegistry(t, 3)
	if err := r.Replace(r.Nodes(), make([]Weight, 2)); err == nil {
		t.Fatalf("expected length mismatch error")
	}
	if r.Len() != 3 || len(r.Weights()) != 3 {
		t.Fatalf("registry changed after failed replace")
	}
}

func TestUpsertKeepsWeight(t *testing.T) {
	r := newTestRegistry(t, 2)
	r.RecordResponse(addr(1), 250*time.Millisecond)
	r.Upsert(Node{Address: addr(1), URL: "https://moved.example", Props: PropData})

	i := r.IndexOf(addr(1))
	if got := r.Node(i).URL; got != "https://moved.example" {
		t.Fatalf("url not updated: %s", got)
	}
	if w := r.Weight(i); w.ResponseCount != 1 || w.TotalResponseTime != 250 {
		t.Fatalf("weight lost on upsert: %+v", w)
	}
}

func TestBlacklistCounts(t *testing.T) {
	r := newTestRegistry(t, 4)
	r.Blacklist(addr(0), testNow.Add(time.Hour))
	r.Blacklist(addr(1), testNow.Add(-time.Minute))
	if got := r.BlacklistedCount(testNow); got != 1 {
		t.Fatalf("expected one active blacklisting, got %d", got)
	}
	if r.Blacklist(addr(77), testNow) {
		t.Fatalf("unknown node must not be blacklisted")
	}
	r.ClearBlacklists()
	if r.BlacklistedCount(testNow) != 0 {
		t.Fatalf("blacklists not cleared")
	}
}

func TestVerifiedHashesKeepNewest(t *testing.T) {
	r := newTestRegistry(t, 1)
	r.MaxVerifiedHashes = 2
	for b := uint64(1); b <= 3; b++ {
		r.AddVerifiedHash(plugin.VerifiedHash{Block: b})
	}
	r.AddVerifiedHash(plugin.VerifiedHash{Block: 3})
	if len(r.VerifiedHashes) != 2 || r.VerifiedHashes[0].Block != 2 || r.VerifiedHashes[1].Block != 3 {
		t.Fatalf("unexpected verified hashes %+v", r.VerifiedHashes)
	}
}

func TestPropsMatching(t *testing.T) {
	required := (PropProof | PropHTTP).WithMinBlockHeight(6)
	if !required.Matches(DefaultProps.WithMinBlockHeight(4)) {
		t.Fatalf("node signing at lower height should match")
	}
	if required.Matches(DefaultProps.WithMinBlockHeight(10)) {
		t.Fatalf("node signing at higher height must not match")
	}
	if required.Matches(PropProof) {
		t.Fatalf("missing http flag must not match")
	}
	if Props(0).Matches(0) != true {
		t.Fatalf("empty requirement matches everything")
	}
	if got := (PropProof | PropSigner).String(); got != "proof|signer" {
		t.Fatalf("unexpected props string %q", got)
	}
}
