package request

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/errcode"
	"trustclient/plugin"
	"trustclient/rpc"
)

// verifyNodeResponse checks the answer of node i. On success the parsed
// responses are kept on the context.
func (c *Context) verifyNodeResponse(i int) error {
	node := c.nodes[i]
	s := c.pending[i]
	label := nodeLabel(node)

	if s.resp.Err != nil || len(s.resp.Data) == 0 {
		c.blacklist(node, "no response")
		if s.resp.Err != nil {
			return errcode.Wrap(errcode.Transport, "no response from "+label, s.resp.Err)
		}
		return errcode.New(errcode.Transport, "empty response from "+label)
	}

	responses, err := rpc.ParseResponses(s.resp.Data, len(c.requests))
	if err != nil {
		c.blacklist(node, "invalid response")
		return errcode.Wrap(errcode.InvalidData, "invalid response from "+label, err)
	}

	shouldVerify := c.verify || c.env.Config.Proof != ProofNone
	var hashes []plugin.VerifiedHash
	for j, resp := range responses {
		if resp.Error != nil {
			if resp.Error.IsUserError() {
				continue
			}
			c.blacklist(node, "node error")
			return errcode.Newf(errcode.RPC, "%s: %s", label, resp.Error.Message)
		}
		if !shouldVerify {
			continue
		}
		v := &plugin.Verification{
			ChainID:  c.chainID,
			Proof:    c.env.Config.Proof.String(),
			Request:  c.requests[j],
			Response: resp,
			Node:     node.Address,
			Env:      c,
		}
		if err := c.env.Plugins.Verify(v); err != nil {
			if errcode.IsWaiting(err) {
				return err
			}
			var unhandled *plugin.UnhandledError
			if errors.As(err, &unhandled) {
				return err
			}
			if v.DontBlacklist {
				c.exclude(node)
			} else {
				c.blacklist(node, "verification failed")
			}
			return errcode.Wrap(errcode.InvalidData, "verification of "+c.requests[j].Method+" from "+label+" failed", err)
		}
		hashes = append(hashes, v.VerifiedHashes...)
	}

	if len(hashes) > 0 && c.env.Selector != nil {
		c.env.Selector.AddVerifiedHashes(c.chainID, hashes)
	}
	c.responses = responses
	return nil
}

// Require returns the response to an auxiliary request, creating a required
// context for it on first use. The finished child is consumed.
func (c *Context) Require(req *rpc.Request) (*rpc.Response, error) {
	if req.JSONRPC == "" {
		req.JSONRPC = rpc.Version
	}
	child := c.findRequiredRequest(req)
	if child == nil {
		if _, err := NewRequired(c, req); err != nil {
			return nil, err
		}
		return nil, errcode.ErrWaiting
	}
	switch child.State() {
	case StateSuccess:
		resp := child.responses[0]
		c.RemoveRequired(child)
		return resp, nil
	case StateError:
		err := child.Err()
		c.RemoveRequired(child)
		return nil, err
	default:
		return nil, errcode.ErrWaiting
	}
}

// RequireSignature returns a signature of message by account, creating a
// signing context on first use.
func (c *Context) RequireSignature(message []byte, account common.Address) ([]byte, error) {
	req := &plugin.SignRequest{Message: message, Account: account, Digest: plugin.DigestKeccak}
	child := c.findRequiredSign(req)
	if child == nil {
		sc, err := NewSign(c.env, req, WithChain(c.chainID))
		if err != nil {
			return nil, err
		}
		c.AddRequired(sc)
		return nil, errcode.ErrWaiting
	}
	switch child.State() {
	case StateSuccess:
		sig := child.signature
		c.RemoveRequired(child)
		return sig, nil
	case StateError:
		err := child.Err()
		c.RemoveRequired(child)
		return nil, err
	default:
		return nil, errcode.ErrWaiting
	}
}

var _ plugin.Environment = (*Context)(nil)
