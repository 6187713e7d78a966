// Package client assembles the request engine, node selector and plugins from
// a configuration and drives requests to completion.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/config"
	"trustclient/crypto"
	"trustclient/errcode"
	"trustclient/nodelist"
	"trustclient/nodeselect"
	"trustclient/observability"
	"trustclient/observability/logging"
	"trustclient/plugin"
	"trustclient/request"
	"trustclient/rpc"
	"trustclient/seeds"
	"trustclient/storage"
	"trustclient/transport"
	"trustclient/verifier"
)

// Client may be shared between goroutines. Requests are driven one at a
// time; callers queue until the running request finishes.
type Client struct {
	// driving holds a token while a request is being executed.
	driving  chan struct{}
	cfg      *config.Config
	env      *request.Env
	selector *nodeselect.Selector
	plugins  *plugin.Set
	store    storage.Store
	log      *slog.Logger
}

type options struct {
	transport plugin.Transport
	store     storage.Store
	resolver  seeds.Resolver
	logger    *slog.Logger
	selector  []nodeselect.Option
	verifiers []plugin.Verifier
	signer    plugin.Signer
}

// Option customises New.
type Option func(*options)

// WithTransport replaces the HTTP transport.
func WithTransport(t plugin.Transport) Option { return func(o *options) { o.transport = t } }

// WithStore replaces the configured cache backend.
func WithStore(s storage.Store) Option { return func(o *options) { o.store = s } }

// WithResolver replaces the system DNS resolver used for seed domains.
func WithResolver(r seeds.Resolver) Option { return func(o *options) { o.resolver = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithSelectorOptions passes options to the node selector.
func WithSelectorOptions(opts ...nodeselect.Option) Option {
	return func(o *options) { o.selector = append(o.selector, opts...) }
}

// WithSigner replaces the keystore signer named in the configuration.
func WithSigner(sg plugin.Signer) Option { return func(o *options) { o.signer = sg } }

// WithVerifier registers a verifier ahead of the registry verifier.
func WithVerifier(v plugin.Verifier) Option {
	return func(o *options) { o.verifiers = append(o.verifiers, v) }
}

// New builds a client for cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	proof, err := request.ParseProof(cfg.Proof)
	if err != nil {
		return nil, errcode.Wrap(errcode.Config, "invalid proof", err)
	}

	store := o.store
	if store == nil {
		store, err = storage.Open(storage.Config{
			Backend: cfg.Cache.Backend,
			Path:    cfg.Cache.Path,
			DSN:     cfg.Cache.DSN,
			Size:    cfg.Cache.Size,
		})
		if err != nil {
			return nil, errcode.Wrap(errcode.Config, "open cache", err)
		}
	}
	o.logger.Debug("cache opened", "backend", cfg.Cache.Backend, "dsn", logging.StripCredentials(cfg.Cache.DSN))

	tr := o.transport
	if tr == nil {
		tr, err = transport.New(transport.Config{
			Timeout:           cfg.Timeout.Std(),
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
		if err != nil {
			closeStore(store)
			return nil, errcode.Wrap(errcode.Config, "create transport", err)
		}
	}

	chains := cfg.EffectiveChains()
	expectations := make(map[uint64]verifier.Expectation, len(chains))
	for _, ch := range chains {
		expectations[ch.ChainID] = verifier.Expectation{
			Contract:   common.HexToAddress(ch.Contract),
			RegistryID: common.HexToHash(ch.RegistryID),
		}
	}

	pluginOpts := []plugin.Option{plugin.WithTransport(tr)}
	for _, v := range o.verifiers {
		pluginOpts = append(pluginOpts, plugin.WithVerifier(v))
	}
	pluginOpts = append(pluginOpts, plugin.WithVerifier(verifier.NewRegistry(expectations)))
	if store != nil {
		pluginOpts = append(pluginOpts, plugin.WithCache(store))
	}
	if o.signer != nil {
		pluginOpts = append(pluginOpts, plugin.WithSigner(o.signer))
	} else if cfg.Signer.Keystore != "" {
		signer, err := crypto.LoadSigner(cfg.Signer.Keystore, cfg.Signer.PassphraseEnv)
		if err != nil {
			closeStore(store)
			return nil, errcode.Wrap(errcode.Config, "load signer", err)
		}
		pluginOpts = append(pluginOpts, plugin.WithSigner(signer))
	}
	plugins := plugin.NewSet(pluginOpts...)

	props := nodelist.Props(0)
	if cfg.NodeProps != "" {
		p, err := config.ParseProps(cfg.NodeProps)
		if err != nil {
			closeStore(store)
			return nil, errcode.Wrap(errcode.Config, "invalid node props", err)
		}
		props = nodelist.Props(p)
	}
	sel := nodeselect.New(nodeselect.Config{
		RequestCount:       cfg.RequestCount,
		MinDeposit:         cfg.MinDeposit,
		NodeProps:          props,
		NodeLimit:          cfg.NodeLimit,
		ReplaceLatestBlock: cfg.ReplaceLatestBlock,
		AutoUpdateList:     cfg.AutoUpdateList,
		BootWeights:        cfg.BootWeights,
		UseHTTP:            cfg.UseHTTP,
		BlacklistTTL:       cfg.BlacklistTTL.Std(),
	}, plugins, append([]nodeselect.Option{nodeselect.WithLogger(o.logger)}, o.selector...)...)

	for _, ch := range chains {
		cc, err := chainConfig(ch)
		if err != nil {
			closeStore(store)
			return nil, err
		}
		if ch.SeedDomain != "" {
			found, err := seeds.Resolve(ctx, ch.SeedDomain, o.resolver)
			if err != nil {
				o.logger.Warn("seed lookup incomplete", "chain", ch.ChainID, "domain", ch.SeedDomain, "error", err)
			}
			cc.BootNodes = appendSeeds(cc.BootNodes, found)
		}
		sel.AddChain(cc)
	}

	env := &request.Env{
		Config: request.Config{
			ChainID:        cfg.ChainID,
			Proof:          proof,
			MaxAttempts:    cfg.MaxAttempts,
			SignatureCount: cfg.SignatureCount,
			Finality:       cfg.Finality,
			LatestBlock:    cfg.LatestBlock,
		},
		Plugins:    plugins,
		Selector:   sel,
		Logger:     o.logger,
		MaxPending: cfg.MaxPending,
	}
	return &Client{driving: make(chan struct{}, 1), cfg: cfg, env: env, selector: sel, plugins: plugins, store: store, log: o.logger}, nil
}

func closeStore(s storage.Store) {
	if s != nil {
		_ = s.Close()
	}
}

func chainConfig(ch config.Chain) (nodeselect.ChainConfig, error) {
	cc := nodeselect.ChainConfig{
		ChainID:      ch.ChainID,
		AvgBlockTime: ch.AvgBlockTime,
		NeedsUpdate:  ch.NeedsUpdate,
	}
	if ch.Contract != "" {
		cc.Contract = common.HexToAddress(ch.Contract)
	}
	if ch.RegistryID != "" {
		cc.RegistryID = common.HexToHash(ch.RegistryID)
	}
	if ch.WhiteListContract != "" {
		cc.WhitelistContract = common.HexToAddress(ch.WhiteListContract)
	}
	for _, addr := range ch.WhiteList {
		cc.Whitelist = append(cc.Whitelist, common.HexToAddress(addr))
	}
	for i, n := range ch.NodeList {
		props := nodelist.DefaultProps
		if n.Props != "" {
			p, err := config.ParseProps(n.Props)
			if err != nil {
				return cc, errcode.Wrap(errcode.Config, fmt.Sprintf("chain %d node %d", ch.ChainID, i), err)
			}
			props = nodelist.Props(p)
		}
		cc.BootNodes = append(cc.BootNodes, nodelist.Node{
			Address:  common.HexToAddress(n.Address),
			URL:      n.URL,
			Props:    props,
			Capacity: 1,
			Index:    uint32(i),
		})
	}
	return cc, nil
}

func appendSeeds(nodes []nodelist.Node, found []seeds.Seed) []nodelist.Node {
	known := make(map[common.Address]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.Address] = struct{}{}
	}
	for _, s := range found {
		if _, ok := known[s.Address]; ok {
			continue
		}
		props := nodelist.DefaultProps
		if s.Props != 0 {
			props = nodelist.Props(s.Props)
		}
		nodes = append(nodes, nodelist.Node{
			Address:  s.Address,
			URL:      s.URL,
			Props:    props,
			Capacity: 1,
			Index:    uint32(len(nodes)),
		})
		known[s.Address] = struct{}{}
	}
	return nodes
}

// Selector exposes the node selector.
func (c *Client) Selector() *nodeselect.Selector { return c.selector }

// Env exposes the shared request environment.
func (c *Client) Env() *request.Env { return c.env }

// Send executes a raw JSON-RPC payload, single or batch, and returns the
// response document.
func (c *Client) Send(ctx context.Context, payload []byte, opts ...request.Option) ([]byte, error) {
	start := time.Now()
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rc, err := request.New(c.env, payload, opts...)
	if err != nil {
		return nil, err
	}
	defer rc.Free()

	err = c.drive(ctx, rc)
	observability.ClientMetrics().ObserveRequest(rc.Method(), err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return rc.ResponseJSON()
}

// Call executes one method and returns its result.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return c.CallChain(ctx, c.env.Config.ChainID, method, params...)
}

// CallChain executes one method against chainID.
func (c *Client) CallChain(ctx context.Context, chainID uint64, method string, params ...any) (json.RawMessage, error) {
	start := time.Now()
	req, err := rpc.NewRequest(method, params...)
	if err != nil {
		return nil, err
	}
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rc, err := request.NewFromRequests(c.env, []*rpc.Request{req}, false, request.WithChain(chainID))
	if err != nil {
		return nil, err
	}
	defer rc.Free()

	err = c.drive(ctx, rc)
	observability.ClientMetrics().ObserveRequest(method, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return rc.Result()
}

// acquire waits until no other request is being driven.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	select {
	case c.driving <- struct{}{}:
		return func() { <-c.driving }, nil
	case <-ctx.Done():
		return nil, errcode.Wrap(errcode.Transport, "request cancelled", ctx.Err())
	}
}

// drive executes rc until it finishes, performing the transport and signing
// work every waiting context asks for.
func (c *Client) drive(ctx context.Context, rc *request.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return errcode.Wrap(errcode.Transport, "request cancelled", err)
		}
		status, err := rc.Execute()
		if err != nil {
			return err
		}
		if status == request.StatusOK {
			return nil
		}
		next := rc.NextPending()
		if next == nil {
			return errcode.Newf(errcode.Unknown, "request waits in state %s without pending work", rc.State())
		}
		if next.Kind() == request.KindSign {
			sig, err := c.plugins.Sign(ctx, next.SignRequest())
			next.DeliverSignature(sig, err)
			continue
		}
		out, err := next.Outgoing()
		if err != nil {
			return err
		}
		resps, err := c.plugins.Send(ctx, out)
		if err != nil {
			return err
		}
		for i, r := range resps {
			next.Deliver(i, r)
		}
	}
}

// Nodes returns the node table and weights of chainID.
func (c *Client) Nodes(chainID uint64) ([]nodelist.Node, []nodelist.Weight, error) {
	return c.selector.Snapshot(chainID)
}

// Refresh schedules a node list update for chainID.
func (c *Client) Refresh(chainID uint64) error { return c.selector.Refresh(chainID) }

// ClearCache drops every persisted registry.
func (c *Client) ClearCache() error { return c.plugins.CacheClear() }

// ChainIDs lists the configured chains.
func (c *Client) ChainIDs() []uint64 {
	chains := c.cfg.EffectiveChains()
	out := make([]uint64, len(chains))
	for i, ch := range chains {
		out[i] = ch.ChainID
	}
	return out
}

// Close persists the registries and closes the cache.
func (c *Client) Close() error {
	c.selector.Persist()
	return c.CloseWithoutPersist()
}

// CloseWithoutPersist closes the cache without writing the registries back.
func (c *Client) CloseWithoutPersist() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
