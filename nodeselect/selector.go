// Package nodeselect is the default node selection strategy. It owns the
// registry of every configured chain, picks data and signer nodes for request
// contexts, punishes misbehaving nodes and keeps the registries current by
// running node list and whitelist refreshes as required contexts.
package nodeselect

import (
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/errcode"
	"trustclient/nodelist"
	"trustclient/observability"
	"trustclient/plugin"
	"trustclient/request"
)

const (
	// MethodNodeList fetches the registered nodes of a chain.
	MethodNodeList = "in3_nodeList"
	// MethodWhitelist fetches the whitelisted node addresses.
	MethodWhitelist = "in3_whiteList"

	// DefaultBlacklistTTL is how long a punished node stays out of rotation.
	DefaultBlacklistTTL = time.Hour
	// DefaultRequestCount is the number of nodes asked in parallel.
	DefaultRequestCount = 1
	// maxWaitTime caps how long a claimed node list change is postponed.
	maxWaitTime = 3600
)

// Config holds the selection settings shared by all chains.
type Config struct {
	RequestCount       int
	MinDeposit         uint64
	NodeProps          nodelist.Props
	NodeLimit          int
	ReplaceLatestBlock uint8
	AutoUpdateList     bool
	BootWeights        bool
	UseHTTP            bool
	BlacklistTTL       time.Duration
}

// ChainConfig describes one chain and its boot nodes.
type ChainConfig struct {
	ChainID           uint64
	Contract          common.Address
	RegistryID        common.Hash
	AvgBlockTime      uint16
	WhitelistContract common.Address
	Whitelist         []common.Address
	BootNodes         []nodelist.Node
	// Preselect restricts picks to these addresses until the first blacklist
	// reset.
	Preselect []common.Address
	// NeedsUpdate forces a bootstrap refresh even when a cached list exists.
	NeedsUpdate bool
}

type chainState struct {
	reg   *nodelist.Registry
	label string
	// owner is the context that started the running node list update.
	owner *request.Context
}

// Selector implements request.NodeSelector. It is safe for concurrent use.
type Selector struct {
	mu      sync.Mutex
	cfg     Config
	plugins *plugin.Set
	chains  map[uint64]*chainState
	log     *slog.Logger
	now     func() time.Time
	rnd     *rand.Rand
}

var _ request.NodeSelector = (*Selector)(nil)

// Option adjusts a Selector.
type Option func(*Selector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Selector) { s.log = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Selector) { s.now = now } }

// WithRand makes weighted picks reproducible.
func WithRand(rnd *rand.Rand) Option { return func(s *Selector) { s.rnd = rnd } }

// New returns a selector without chains. plugins provides the cache that
// registries are loaded from and persisted to.
func New(cfg Config, plugins *plugin.Set, opts ...Option) *Selector {
	if cfg.RequestCount <= 0 {
		cfg.RequestCount = DefaultRequestCount
	}
	if cfg.BlacklistTTL <= 0 {
		cfg.BlacklistTTL = DefaultBlacklistTTL
	}
	if cfg.NodeProps == 0 {
		cfg.NodeProps = nodelist.PropData
	}
	if plugins == nil {
		plugins = plugin.NewSet()
	}
	s := &Selector{
		cfg:     cfg,
		plugins: plugins,
		chains:  make(map[uint64]*chainState),
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddChain registers a chain, restores its cached registry and schedules the
// bootstrap refresh when nothing was cached and auto update is enabled.
func (s *Selector) AddChain(cc ChainConfig) *nodelist.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg := nodelist.NewRegistry(cc.ChainID, cc.Contract, cc.RegistryID)
	if cc.AvgBlockTime > 0 {
		reg.AvgBlockTime = cc.AvgBlockTime
	}
	for _, n := range cc.BootNodes {
		n.Attrs |= nodelist.AttrBootNode
		reg.Upsert(n)
	}
	if cc.WhitelistContract != (common.Address{}) || len(cc.Whitelist) > 0 {
		reg.Whitelist = &nodelist.Whitelist{
			Contract:  cc.WhitelistContract,
			Addresses: append([]common.Address(nil), cc.Whitelist...),
		}
		reg.ApplyWhitelist()
	}
	reg.SetPreselection(cc.Preselect)
	st := &chainState{reg: reg, label: strconv.FormatUint(cc.ChainID, 10)}
	s.chains[cc.ChainID] = st

	cached := s.load(st)
	if cc.NeedsUpdate || (!cached && s.cfg.AutoUpdateList) {
		reg.Update = &nodelist.UpdateParams{}
	}
	if reg.Whitelist != nil && !reg.Whitelist.IsManual() && reg.Whitelist.LastBlock == 0 {
		reg.Whitelist.NeedsUpdate = true
	}
	reg.MarkClean()
	observability.ClientMetrics().SetNodes(st.label, reg.Len())
	return reg
}

// Registry returns the registry of a chain.
func (s *Selector) Registry(chainID uint64) (*nodelist.Registry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.chains[chainID]
	if !ok {
		return nil, false
	}
	return st.reg, true
}

// Snapshot returns copies of the node table and weights of a chain.
func (s *Selector) Snapshot(chainID uint64) ([]nodelist.Node, []nodelist.Weight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.chain(chainID)
	if err != nil {
		return nil, nil, err
	}
	return st.reg.Nodes(), st.reg.Weights(), nil
}

// Refresh forces a node list update on the next request of the chain.
func (s *Selector) Refresh(chainID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.chain(chainID)
	if err != nil {
		return err
	}
	st.reg.Update = &nodelist.UpdateParams{}
	if wl := st.reg.Whitelist; wl != nil && !wl.IsManual() {
		wl.NeedsUpdate = true
	}
	return nil
}

func (s *Selector) chain(chainID uint64) (*chainState, error) {
	st, ok := s.chains[chainID]
	if !ok {
		return nil, errcode.Newf(errcode.Config, "chain %d is not configured", chainID)
	}
	return st, nil
}

func isRefresh(c *request.Context) bool {
	m := c.Method()
	return m == MethodNodeList || m == MethodWhitelist
}

// PickData refreshes the registry if needed and picks the nodes that serve c.
func (s *Selector) PickData(c *request.Context) ([]nodelist.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.chain(c.ChainID())
	if err != nil {
		return nil, err
	}
	lookup := isRefresh(c)
	if !lookup {
		if err := s.refresh(c, st); err != nil {
			return nil, err
		}
	}

	env := c.Env()
	f := nodelist.Filter{
		Props:         s.cfg.NodeProps.Flags() | nodelist.PropData,
		Exclusions:    c.Excluded(),
		SkipWhitelist: lookup,
	}
	if s.cfg.UseHTTP {
		f.Props |= nodelist.PropHTTP
	}
	if env.Config.Proof != request.ProofNone {
		f.Props |= nodelist.PropProof
	}
	if m := c.Meta(); m != nil {
		f.Nodes = m.DataNodes
		f.Exclusions = append(f.Exclusions, m.SignerNodes...)
	}

	count := s.cfg.RequestCount
	if env.Config.SignatureCount > 0 && count <= 1 {
		count = 2
	}
	return st.reg.Pick(s.now(), s.rnd, count, f, s.pickOptions())
}

// PickSigners picks the nodes asked to sign the result of c.
func (s *Selector) PickSigners(c *request.Context, data []nodelist.Match) ([]nodelist.Match, error) {
	total := c.Env().Config.SignatureCount
	if total <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.chain(c.ChainID())
	if err != nil {
		return nil, err
	}
	f := nodelist.Filter{Props: s.cfg.NodeProps | nodelist.PropSigner}
	for _, m := range data {
		f.Exclusions = append(f.Exclusions, m.Address)
	}
	if m := c.Meta(); m != nil {
		f.Nodes = m.SignerNodes
	}
	signers, err := st.reg.Pick(s.now(), s.rnd, total, f, s.pickOptions())
	if err != nil {
		return nil, errcode.Wrap(errcode.CodeOf(err), "Could not find any nodes for requesting signatures", err)
	}
	return signers, nil
}

func (s *Selector) pickOptions() nodelist.PickOptions {
	return nodelist.PickOptions{MinDeposit: s.cfg.MinDeposit, HTTPOnly: s.cfg.UseHTTP}
}

// Blacklist keeps node out of rotation for the configured TTL.
func (s *Selector) Blacklist(c *request.Context, node common.Address, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.chain(c.ChainID())
	if err != nil {
		return
	}
	s.blacklist(st, node, reason)
}

func (s *Selector) blacklist(st *chainState, node common.Address, reason string) {
	until := s.now().Add(s.cfg.BlacklistTTL)
	if !st.reg.Blacklist(node, until) {
		return
	}
	s.log.Warn("node blacklisted", "chain", st.label, "node", node.Hex(), "reason", reason, "until", until.UTC())
	observability.ClientMetrics().RecordBlacklist(st.label, reason)
}

// AddVerifiedHashes remembers proven block hashes of a chain.
func (s *Selector) AddVerifiedHashes(chainID uint64, hashes []plugin.VerifiedHash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.chains[chainID]
	if !ok {
		return
	}
	for _, h := range hashes {
		st.reg.AddVerifiedHash(h)
	}
}

// VerifiedHashes returns the remembered hashes, oldest first.
func (s *Selector) VerifiedHashes(chainID uint64) []common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.chains[chainID]
	if !ok {
		return nil
	}
	out := make([]common.Hash, 0, len(st.reg.VerifiedHashes))
	for _, h := range st.reg.VerifiedHashes {
		out = append(out, h.Hash)
	}
	return out
}
