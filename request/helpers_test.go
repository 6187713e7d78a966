package request

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/errcode"
	"trustclient/nodelist"
	"trustclient/plugin"
	"trustclient/rpc"
)

func nodeAddr(i int) common.Address { return common.BytesToAddress([]byte{0xbe, byte(i)}) }

func nodeURL(i int) string { return fmt.Sprintf("https://node%d.test", i) }

// orderedSelector hands out nodes in registry order, skipping excluded and
// blacklisted ones.
type orderedSelector struct {
	nodes       int
	blacklisted map[common.Address]string
	followups   []nodelist.Match
	picks       int
	hashes      []plugin.VerifiedHash

	beforePick func(c *Context) error
	failable   func(c, child *Context) error
	failables  int
}

func newOrderedSelector(n int) *orderedSelector {
	return &orderedSelector{nodes: n, blacklisted: make(map[common.Address]string)}
}

func (s *orderedSelector) PickData(c *Context) ([]nodelist.Match, error) {
	s.picks++
	if s.beforePick != nil {
		if err := s.beforePick(c); err != nil {
			return nil, err
		}
	}
	excluded := make(map[common.Address]bool)
	for _, a := range c.Excluded() {
		excluded[a] = true
	}
	for i := 0; i < s.nodes; i++ {
		a := nodeAddr(i)
		if excluded[a] || s.blacklisted[a] != "" {
			continue
		}
		return []nodelist.Match{{Index: i, Address: a, URL: nodeURL(i), Weight: 1}}, nil
	}
	return nil, nodelist.ErrNoNodes
}

func (s *orderedSelector) PickSigners(c *Context, data []nodelist.Match) ([]nodelist.Match, error) {
	return []nodelist.Match{{Index: 9, Address: nodeAddr(9), URL: nodeURL(9)}}, nil
}

func (s *orderedSelector) Blacklist(c *Context, node common.Address, reason string) {
	s.blacklisted[node] = reason
}

func (s *orderedSelector) Followup(c *Context, node nodelist.Match) {
	s.followups = append(s.followups, node)
}

func (s *orderedSelector) HandleFailable(c, child *Context) error {
	s.failables++
	if s.failable != nil {
		return s.failable(c, child)
	}
	return nil
}

func (s *orderedSelector) AddVerifiedHashes(chainID uint64, hashes []plugin.VerifiedHash) {
	s.hashes = append(s.hashes, hashes...)
}

func (s *orderedSelector) VerifiedHashes(chainID uint64) []common.Hash {
	var out []common.Hash
	for _, h := range s.hashes {
		out = append(out, h.Hash)
	}
	return out
}

// scriptedTransport answers every url through fn and logs what was sent.
type scriptedTransport struct {
	fn   func(url string, req *rpc.Request) (string, error)
	sent []string
}

func (t *scriptedTransport) Send(_ context.Context, req *plugin.TransportRequest) []plugin.TransportResponse {
	out := make([]plugin.TransportResponse, len(req.URLs))
	var first rpc.Request
	reqs, _, err := rpc.ParseRequests(req.Payload)
	if err == nil {
		first = *reqs[0]
	}
	for i, url := range req.URLs {
		t.sent = append(t.sent, first.Method+"@"+url)
		body, err := t.fn(url, &first)
		out[i] = plugin.TransportResponse{Data: []byte(body), Err: err, Duration: 40 * time.Millisecond}
	}
	return out
}

func result(req *rpc.Request, value string) string {
	id := string(req.ID)
	if id == "" {
		id = "1"
	}
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":%s}`, id, value)
}

type staticSigner struct{ sig []byte }

func (s staticSigner) Sign(context.Context, *plugin.SignRequest) ([]byte, error) { return s.sig, nil }
func (s staticSigner) Accounts() []common.Address                             { return nil }

func newEnv(sel NodeSelector, opts ...plugin.Option) *Env {
	return &Env{
		Config:   Config{ChainID: 1, MaxAttempts: 3, Version: "2.1.0"},
		Plugins:  plugin.NewSet(opts...),
		Selector: sel,
	}
}

func mustNew(t *testing.T, env *Env, payload string) *Context {
	t.Helper()
	c, err := New(env, []byte(payload))
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	t.Cleanup(c.Free)
	return c
}

// drive runs c to completion the way a synchronous client does.
func drive(t *testing.T, c *Context) error {
	t.Helper()
	for i := 0; i < 100; i++ {
		status, err := c.Execute()
		if err != nil {
			return err
		}
		if status == StatusOK {
			return nil
		}
		next := c.NextPending()
		if next == nil {
			t.Fatalf("context waits but nothing is pending (state %s)", c.State())
		}
		if next.Kind() == KindSign {
			sig, err := c.Env().Plugins.Sign(context.Background(), next.SignRequest())
			next.DeliverSignature(sig, err)
			continue
		}
		out, err := next.Outgoing()
		if err != nil {
			t.Fatalf("outgoing: %v", err)
		}
		resps, err := c.Env().Plugins.Send(context.Background(), out)
		if err != nil {
			return err
		}
		for j, r := range resps {
			next.Deliver(j, r)
		}
	}
	t.Fatalf("context did not terminate")
	return errcode.New(errcode.Unknown, "unreachable")
}

func rawJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
