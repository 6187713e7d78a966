package nodeselect

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/errcode"
	"trustclient/nodelist"
	"trustclient/observability"
	"trustclient/request"
	"trustclient/rpc"
)

// refresh runs a pending node list update and a pending whitelist update for
// the chain of c. It returns errcode.ErrWaiting after adding a required
// context.
func (s *Selector) refresh(c *request.Context, st *chainState) error {
	reg := st.reg

	// Only one context drives a node list update at a time; others keep
	// using the current list.
	busy := st.owner != nil && st.owner != c && !st.owner.Released()
	if !busy {
		child := c.FindRequired(MethodNodeList)
		if child != nil || (reg.Update != nil && !s.postponed(reg.Update)) {
			if err := s.updateNodeList(c, st, child); err != nil {
				return err
			}
		}
	}

	wl := reg.Whitelist
	if wl == nil || wl.IsManual() {
		return nil
	}
	child := c.FindRequired(MethodWhitelist)
	if wl.NeedsUpdate || child != nil {
		wl.NeedsUpdate = false
		return s.updateWhitelist(c, st, child)
	}
	return nil
}

func (s *Selector) postponed(u *nodelist.UpdateParams) bool {
	return u.Timestamp > 0 && uint64(s.now().Unix()) < u.Timestamp
}

func (s *Selector) updateNodeList(c *request.Context, st *chainState, child *request.Context) error {
	if child == nil {
		return s.startNodeListUpdate(c, st)
	}

	reg := st.reg
	raw, err := child.Result()
	var res *nodelist.NodeListResult
	if err == nil {
		res, err = nodelist.ParseNodeListResult(raw)
	}
	if err != nil {
		herr := s.failNodeListUpdate(st, err)
		c.RemoveRequired(child)
		return herr
	}

	if u := reg.Update; u != nil && !u.IsFirst() && uint64(*res.LastBlockNumber) < u.ExpectedLastBlock {
		s.log.Warn("node announced a node list change it could not deliver",
			"chain", st.label, "node", u.Node.Hex(),
			"claimed", u.ExpectedLastBlock, "delivered", uint64(*res.LastBlockNumber))
		s.blacklist(st, u.Node, "nodelist")
	}
	reg.Update = nil
	st.owner = nil

	changed, err := reg.ApplyNodeList(res, s.now())
	c.RemoveRequired(child)
	m := observability.ClientMetrics()
	m.RecordRefresh(st.label, "nodelist", err)
	if err != nil {
		return errcode.Wrap(errcode.CodeOf(err), "Error updating node_list", err)
	}
	if changed {
		s.log.Info("node list updated", "chain", st.label, "nodes", reg.Len(), "last_block", reg.LastBlock)
		m.SetNodes(st.label, reg.Len())
	}
	s.store(st)
	return nil
}

func (s *Selector) startNodeListUpdate(c *request.Context, st *chainState) error {
	u := st.reg.Update
	if u == nil {
		u = &nodelist.UpdateParams{}
		st.reg.Update = u
	}
	seed, err := randomSeed()
	if err != nil {
		return errcode.Wrap(errcode.Unknown, "create node list seed", err)
	}
	preselect := st.reg.Preselection()
	if preselect == nil {
		preselect = []common.Address{}
	}
	params := []any{s.cfg.NodeLimit, seed, preselect}
	if s.cfg.BootWeights && u.IsFirst() {
		params = append(params, true)
	}
	req, err := rpc.NewRequest(MethodNodeList, params...)
	if err != nil {
		return errcode.Wrap(errcode.Invalid, "build node list request", err)
	}
	if !u.IsFirst() {
		req.In3 = &rpc.RequestMeta{DataNodes: []common.Address{u.Node}}
	}
	if _, err := request.NewRequired(c, req, request.AllowFailure(), request.AlwaysVerify()); err != nil {
		return err
	}
	st.owner = c
	s.log.Debug("node list update started", "chain", st.label, "first", u.IsFirst(), "trace", c.Trace())
	return errcode.ErrWaiting
}

// failNodeListUpdate handles a node list update that produced no usable
// list. The node that announced the change is blacklisted. Only a failed
// bootstrap is an error for the parent request.
func (s *Selector) failNodeListUpdate(st *chainState, cause error) error {
	reg := st.reg
	first := reg.Update == nil || reg.Update.IsFirst()
	if !first {
		s.blacklist(st, reg.Update.Node, "nodelist")
	}
	reg.Update = nil
	st.owner = nil
	observability.ClientMetrics().RecordRefresh(st.label, "nodelist", cause)
	if first {
		return errcode.Wrap(errcode.RPC, "Error updating node_list", cause)
	}
	s.log.Warn("node list update failed", "chain", st.label, "err", cause)
	return nil
}

func (s *Selector) updateWhitelist(c *request.Context, st *chainState, child *request.Context) error {
	wl := st.reg.Whitelist
	if child == nil {
		req, err := rpc.NewRequest(MethodWhitelist, "0x"+hex.EncodeToString(wl.Contract.Bytes()))
		if err != nil {
			return errcode.Wrap(errcode.Invalid, "build whitelist request", err)
		}
		if _, err := request.NewRequired(c, req, request.AllowFailure(), request.AlwaysVerify()); err != nil {
			return err
		}
		return errcode.ErrWaiting
	}

	raw, err := child.Result()
	var res *nodelist.WhitelistResult
	if err == nil {
		res, err = nodelist.ParseWhitelistResult(raw)
	}
	var changed bool
	if err == nil {
		changed, err = st.reg.ApplyWhitelistResult(res)
	}
	c.RemoveRequired(child)
	observability.ClientMetrics().RecordRefresh(st.label, "whitelist", err)
	if err != nil {
		return errcode.Wrap(errcode.CodeOf(err), "Error updating white_list", err)
	}
	if changed {
		s.log.Info("whitelist updated", "chain", st.label, "nodes", len(wl.Addresses), "last_block", wl.LastBlock)
		s.store(st)
	}
	return nil
}

// HandleFailable is called for a refresh context that failed. The request
// engine removes the child afterwards.
func (s *Selector) HandleFailable(c *request.Context, child *request.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.chain(c.ChainID())
	if err != nil {
		return err
	}
	switch child.Method() {
	case MethodNodeList:
		return s.failNodeListUpdate(st, child.Err())
	case MethodWhitelist:
		observability.ClientMetrics().RecordRefresh(st.label, "whitelist", child.Err())
		return errcode.Wrap(errcode.RPC, "Error updating white_list", child.Err())
	}
	return nil
}

// randomSeed returns the 0x prefixed 32 byte seed sent with node list
// requests.
func randomSeed() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}
