package nodeselect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"trustclient/nodelist"
	"trustclient/plugin"
	"trustclient/request"
	"trustclient/rpc"
)

var testStart = time.Unix(1_700_000_000, 0)

func nodeAddr(i int) common.Address { return common.BytesToAddress([]byte{0xc0, byte(i)}) }

func nodeURL(i int) string { return fmt.Sprintf("https://n%d.test", i) }

func bootNodes(n int) []nodelist.Node {
	out := make([]nodelist.Node, n)
	for i := range out {
		out[i] = nodelist.Node{
			Address:  nodeAddr(i),
			URL:      nodeURL(i),
			Props:    nodelist.DefaultProps,
			Capacity: 1,
			Index:    uint32(i),
		}
	}
	return out
}

// nodeListJSON renders an in3_nodeList result with nodes 0..n-1.
func nodeListJSON(n int, lastBlock uint64) string {
	type entry struct {
		URL      string         `json:"url"`
		Address  common.Address `json:"address"`
		Index    int            `json:"index"`
		Props    uint64         `json:"props"`
		Capacity int            `json:"capacity"`
		Deposit  int            `json:"deposit"`
	}
	nodes := make([]entry, n)
	for i := range nodes {
		nodes[i] = entry{URL: nodeURL(i), Address: nodeAddr(i), Index: i, Props: uint64(nodelist.DefaultProps), Capacity: 1, Deposit: 1000}
	}
	b, _ := json.Marshal(map[string]any{
		"nodes":           nodes,
		"contract":        common.Address{},
		"registryId":      common.Hash{},
		"lastBlockNumber": lastBlock,
		"totalServers":    n,
	})
	return string(b)
}

type handler func(url string, req *rpc.Request) (string, error)

// network routes transport requests to a handler and logs method@url.
type network struct {
	mu   sync.Mutex
	fn   handler
	sent []string
}

func (n *network) Send(_ context.Context, tr *plugin.TransportRequest) []plugin.TransportResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	reqs, _, err := rpc.ParseRequests(tr.Payload)
	out := make([]plugin.TransportResponse, len(tr.URLs))
	for i, url := range tr.URLs {
		if err != nil {
			out[i] = plugin.TransportResponse{Err: err}
			continue
		}
		n.sent = append(n.sent, reqs[0].Method+"@"+url)
		body, herr := n.fn(url, reqs[0])
		out[i] = plugin.TransportResponse{Data: []byte(body), Err: herr, Duration: 25 * time.Millisecond}
	}
	return out
}

func (n *network) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if len(s) > len(method) && s[:len(method)+1] == method+"@" {
			c++
		}
	}
	return c
}

func reply(req *rpc.Request, result string, meta string) string {
	if meta == "" {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, result)
	}
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":%s,"in3":%s}`, req.ID, result, meta)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (m *mapCache) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *mapCache) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *mapCache) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}

type fixture struct {
	net   *network
	cache *mapCache
	sel   *Selector
	env   *request.Env
	now   time.Time
}

func newFixture(t *testing.T, cfg Config, cc ChainConfig, fn handler) *fixture {
	t.Helper()
	return newFixtureWithCache(t, cfg, cc, fn, newMapCache())
}

func newFixtureWithCache(t *testing.T, cfg Config, cc ChainConfig, fn handler, cache *mapCache) *fixture {
	t.Helper()
	f := &fixture{net: &network{fn: fn}, cache: cache, now: testStart}
	plugins := plugin.NewSet(plugin.WithTransport(f.net), plugin.WithCache(cache))
	f.sel = New(cfg, plugins,
		WithClock(func() time.Time { return f.now }),
		WithRand(rand.New(rand.NewSource(3))),
	)
	if cc.ChainID == 0 {
		cc.ChainID = 1
	}
	f.sel.AddChain(cc)
	f.env = &request.Env{
		Config:   request.Config{ChainID: cc.ChainID, MaxAttempts: 3},
		Plugins:  plugins,
		Selector: f.sel,
	}
	return f
}

func (f *fixture) registry(t *testing.T) *nodelist.Registry {
	t.Helper()
	reg, ok := f.sel.Registry(f.env.Config.ChainID)
	require.True(t, ok)
	return reg
}

// call runs one request to completion.
func (f *fixture) call(t *testing.T, method string) (*request.Context, error) {
	t.Helper()
	c, err := request.New(f.env, []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":[]}`, method)))
	require.NoError(t, err)
	t.Cleanup(c.Free)
	for i := 0; i < 100; i++ {
		status, err := c.Execute()
		if err != nil {
			return c, err
		}
		if status == request.StatusOK {
			return c, nil
		}
		next := c.NextPending()
		require.NotNil(t, next, "context waits but nothing is pending (state %s)", c.State())
		out, err := next.Outgoing()
		require.NoError(t, err)
		resps, err := f.env.Plugins.Send(context.Background(), out)
		if err != nil {
			return c, err
		}
		for j, r := range resps {
			next.Deliver(j, r)
		}
	}
	return c, errors.New("request did not terminate")
}
