package nodeselect

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/nodelist"
	"trustclient/request"
	"trustclient/rpc"
)

// Followup runs after c accepted the answer of node. It records response
// times, looks for announced registry changes and persists the registry.
func (s *Selector) Followup(c *request.Context, node nodelist.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.chain(c.ChainID())
	if err != nil {
		return
	}
	reg := st.reg
	now := s.now()
	for _, t := range c.Timings() {
		if i := reg.IndexOf(t.Node.Address); i >= 0 && !reg.Weight(i).IsBlacklisted(now) {
			reg.RecordResponse(t.Node.Address, t.Duration)
		}
	}

	if s.cfg.AutoUpdateList {
		i := reg.IndexOf(node.Address)
		resps := c.Responses()
		if i >= 0 && !reg.Weight(i).IsBlacklisted(now) && len(resps) > 0 && resps[0].In3 != nil && resps[0].Error == nil {
			s.checkAutoUpdate(st, node.Address, resps[0].In3)
		}
	}
	if reg.Dirty() {
		s.store(st)
	}
}

// checkAutoUpdate schedules a node list update when node reports a newer
// registry block than the one known, and flags the whitelist the same way.
// The update is postponed so the change can settle for ReplaceLatestBlock
// blocks.
func (s *Selector) checkAutoUpdate(st *chainState, node common.Address, meta *rpc.ResponseMeta) {
	reg := st.reg
	last, current := uint64(meta.LastNodeList), uint64(meta.CurrentBlock)
	if last > current {
		return
	}
	if last > reg.LastBlock && (reg.Update == nil || !reg.Update.IsFirst()) {
		wait := updateWaitTime(last, current, s.cfg.ReplaceLatestBlock, reg.AvgBlockTime)
		reg.Update = &nodelist.UpdateParams{
			Node:              node,
			ExpectedLastBlock: last,
			Timestamp:         uint64(s.now().Add(wait).Unix()),
		}
		s.log.Debug("node list change announced", "chain", st.label, "node", node.Hex(), "block", last, "wait", wait)
	}
	if wl := reg.Whitelist; wl != nil && !wl.IsManual() && uint64(meta.LastWhiteList) > wl.LastBlock {
		wl.NeedsUpdate = true
	}
}

// updateWaitTime is how long to wait before fetching a node list that
// changed in block lastNodeList.
func updateWaitTime(lastNodeList, current uint64, replaceLatest uint8, avgBlockTime uint16) time.Duration {
	if lastNodeList > current {
		return 0
	}
	diff := current - lastNodeList
	if diff >= uint64(replaceLatest) {
		return 0
	}
	secs := (uint64(replaceLatest) - diff) * uint64(avgBlockTime)
	if secs > maxWaitTime {
		secs = maxWaitTime
	}
	return time.Duration(secs) * time.Second
}

// load restores the cached registry and whitelist of st. It reports whether
// a node list was found.
func (s *Selector) load(st *chainState) bool {
	reg := st.reg
	found := false
	if data, ok := s.plugins.CacheGet(nodelist.CacheKey(reg.ChainID)); ok {
		if err := reg.RestoreCache(data); err != nil {
			lvl := "invalid"
			if errors.Is(err, nodelist.ErrCacheVersion) {
				lvl = "outdated"
			}
			s.log.Warn("ignoring cached node list", "chain", st.label, "reason", lvl, "err", err)
		} else {
			found = true
		}
	}
	if wl := reg.Whitelist; wl != nil && !wl.IsManual() {
		if data, ok := s.plugins.CacheGet(nodelist.WhitelistCacheKey(reg.ChainID, wl.Contract)); ok {
			if err := wl.RestoreCache(data); err != nil {
				s.log.Warn("ignoring cached whitelist", "chain", st.label, "err", err)
			} else {
				reg.ApplyWhitelist()
			}
		}
	}
	return found
}

// store writes the registry of st to the cache plugin.
func (s *Selector) store(st *chainState) {
	reg := st.reg
	if err := s.plugins.CacheSet(nodelist.CacheKey(reg.ChainID), reg.MarshalCache()); err != nil {
		s.log.Warn("caching node list failed", "chain", st.label, "err", err)
		return
	}
	if wl := reg.Whitelist; wl != nil && !wl.IsManual() {
		if err := s.plugins.CacheSet(nodelist.WhitelistCacheKey(reg.ChainID, wl.Contract), wl.MarshalCache()); err != nil {
			s.log.Warn("caching whitelist failed", "chain", st.label, "err", err)
			return
		}
	}
	reg.MarkClean()
}

// Persist writes every changed registry to the cache.
func (s *Selector) Persist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.chains {
		if st.reg.Dirty() {
			s.store(st)
		}
	}
}
