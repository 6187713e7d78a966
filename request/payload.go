package request

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/errcode"
	"trustclient/plugin"
	"trustclient/rpc"
)

// NextPending returns the context whose input is missing: a dispatched RPC
// context without all responses or an unanswered sign context. Children are
// searched first. It returns nil if nothing is outstanding.
func (c *Context) NextPending() *Context {
	if c.terminal() {
		return nil
	}
	for _, child := range c.required {
		if p := child.NextPending(); p != nil {
			return p
		}
	}
	switch c.kind {
	case KindSign:
		if c.signSent && c.signature == nil && c.signErr == nil {
			return c
		}
	default:
		for _, s := range c.pending {
			if !s.done {
				return c
			}
		}
	}
	return nil
}

// Outgoing builds the transport request for the current attempt.
func (c *Context) Outgoing() (*plugin.TransportRequest, error) {
	if c.kind != KindRPC {
		return nil, errcode.New(errcode.Invalid, "not an rpc context")
	}
	if c.pending == nil {
		return nil, errcode.New(errcode.Invalid, "request is not ready to be sent")
	}
	payload, err := c.payload()
	if err != nil {
		return nil, err
	}
	urls := make([]string, len(c.nodes))
	for i, n := range c.nodes {
		urls[i] = n.URL
	}
	return &plugin.TransportRequest{Payload: payload, URLs: urls, Method: c.Method()}, nil
}

func (c *Context) payload() ([]byte, error) {
	cfg := c.env.Config
	var meta *rpc.RequestMeta
	if cfg.Proof != ProofNone || len(c.signers) > 0 {
		meta = &rpc.RequestMeta{
			ChainID:      rpc.Quantity(c.chainID),
			Verification: cfg.Proof.verification(),
			Version:      cfg.Version,
			Finality:     cfg.Finality,
			LatestBlock:  cfg.LatestBlock,
		}
		for _, s := range c.signers {
			meta.Signers = append(meta.Signers, s.Address)
		}
		if c.env.Selector != nil {
			meta.VerifiedHashes = c.env.Selector.VerifiedHashes(c.chainID)
		}
	}

	out := make([]*rpc.Request, len(c.requests))
	for i, r := range c.requests {
		wire := &rpc.Request{
			JSONRPC: rpc.Version,
			ID:      r.ID,
			Method:  r.Method,
			Params:  r.Params,
			In3:     meta,
		}
		if len(wire.ID) == 0 {
			wire.ID = c.wireID(i)
		}
		if len(wire.Params) == 0 {
			wire.Params = json.RawMessage("[]")
		}
		out[i] = wire
	}
	var (
		data []byte
		err  error
	)
	if c.batch {
		data, err = json.Marshal(out)
	} else {
		data, err = json.Marshal(out[0])
	}
	if err != nil {
		return nil, errcode.Wrap(errcode.Invalid, "encode payload", err)
	}
	return data, nil
}

// Deliver stages the transport outcome for node i of the current attempt.
// Responses for unknown slots or already answered slots are ignored.
func (c *Context) Deliver(i int, resp plugin.TransportResponse) {
	if i < 0 || i >= len(c.pending) || c.pending[i].done {
		return
	}
	c.pending[i] = slot{resp: resp, done: true}
}

// SignRequest returns what a sign context waits for.
func (c *Context) SignRequest() *plugin.SignRequest { return c.signReq }

// DeliverSignature completes a sign context.
func (c *Context) DeliverSignature(sig []byte, err error) {
	if c.kind != KindSign {
		return
	}
	if err != nil {
		c.signErr = err
		return
	}
	if len(sig) == 0 {
		c.signErr = errcode.New(errcode.InvalidData, "empty signature")
		return
	}
	c.signature = sig
}

// SignerAccount returns the account a sign context signs for.
func (c *Context) SignerAccount() common.Address {
	if c.signReq == nil {
		return common.Address{}
	}
	return c.signReq.Account
}
