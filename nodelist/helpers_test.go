package nodelist

import (
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var testNow = time.Unix(1_700_000_000, 0)

func addr(i int) common.Address {
	return common.BytesToAddress([]byte{0xa0, byte(i >> 8), byte(i)})
}

// latencyWeight returns a weight record that rates to roughly target.
func latencyWeight(target uint32) Weight {
	avg := maxWeight / target
	return Weight{ResponseCount: 5, TotalResponseTime: 5 * avg}
}

func newTestRegistry(t *testing.T, n int) *Registry {
	t.Helper()
	r := NewRegistry(1, common.Address{}, common.Hash{})
	for i := 0; i < n; i++ {
		r.Upsert(Node{
			Address:  addr(i),
			URL:      fmt.Sprintf("https://node%d.example", i),
			Props:    DefaultProps,
			Capacity: 1,
			Index:    uint32(i),
			Deposit:  100,
		})
	}
	return r
}

func setWeights(t *testing.T, r *Registry, ws ...Weight) {
	t.Helper()
	if err := r.Replace(r.Nodes(), ws); err != nil {
		t.Fatalf("replace weights: %v", err)
	}
}
