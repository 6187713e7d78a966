package request

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"trustclient/errcode"
	"trustclient/nodelist"
	"trustclient/plugin"
	"trustclient/rpc"
)

// State is the lifecycle position of a context.
type State int

const (
	StateWaitingToSend State = iota
	StateWaitingForResponse
	StateWaitingForRequired
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateWaitingToSend:
		return "waiting_to_send"
	case StateWaitingForResponse:
		return "waiting_for_response"
	case StateWaitingForRequired:
		return "waiting_for_required"
	case StateSuccess:
		return "success"
	default:
		return "error"
	}
}

// Kind tells RPC contexts from signing contexts.
type Kind int

const (
	KindRPC Kind = iota
	KindSign
)

// Status is the non-error outcome of Execute.
type Status int

const (
	StatusOK Status = iota
	StatusWaiting
)

type slot struct {
	resp    plugin.TransportResponse
	done    bool
	checked bool
}

// Timing is the response time of one node in the accepted attempt.
type Timing struct {
	Node     nodelist.Match
	Duration time.Duration
}

// Context is one logical request and the required contexts it depends on.
// A parent owns its children; Free releases the whole tree.
type Context struct {
	env     *Env
	id      uint64
	trace   string
	kind    Kind
	chainID uint64
	log     *slog.Logger

	requests  []*rpc.Request
	batch     bool
	responses []*rpc.Response

	nodes    []nodelist.Match
	signers  []nodelist.Match
	pending  []slot
	excluded []common.Address

	required  []*Context
	allowFail bool
	verify    bool

	err     *errcode.Error
	history []error
	attempt int

	signReq   *plugin.SignRequest
	signature []byte
	signErr   error
	signSent  bool

	freed atomic.Bool
}

// Option adjusts a new context.
type Option func(*Context)

// AllowFailure lets the context fail with errcode.Ignore once its attempts
// are exhausted, so the parent can continue without it.
func AllowFailure() Option { return func(c *Context) { c.allowFail = true } }

// AlwaysVerify runs verifiers even when the client requests no proofs.
func AlwaysVerify() Option { return func(c *Context) { c.verify = true } }

// WithChain overrides the chain the context talks to.
func WithChain(chainID uint64) Option { return func(c *Context) { c.chainID = chainID } }

func newContext(env *Env, kind Kind, opts ...Option) (*Context, error) {
	if err := env.acquire(); err != nil {
		return nil, err
	}
	c := &Context{
		env:     env,
		id:      env.nextID.Add(1),
		trace:   uuid.NewString(),
		kind:    kind,
		chainID: env.Config.ChainID,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = env.logger().With("req", c.trace, "chain", c.chainID)
	return c, nil
}

// New parses a JSON payload holding a request object or a batch.
func New(env *Env, payload []byte, opts ...Option) (*Context, error) {
	reqs, batch, err := rpc.ParseRequests(payload)
	if err != nil {
		return nil, errcode.Wrap(errcode.Invalid, "invalid request", err)
	}
	return NewFromRequests(env, reqs, batch, opts...)
}

// NewFromRequests creates a context for already decoded requests.
func NewFromRequests(env *Env, reqs []*rpc.Request, batch bool, opts ...Option) (*Context, error) {
	if len(reqs) == 0 {
		return nil, errcode.New(errcode.Invalid, "no request")
	}
	c, err := newContext(env, KindRPC, opts...)
	if err != nil {
		return nil, err
	}
	c.requests = reqs
	c.batch = batch || len(reqs) > 1
	return c, nil
}

// NewSign creates a context that waits for a signature of message by account.
func NewSign(env *Env, req *plugin.SignRequest, opts ...Option) (*Context, error) {
	c, err := newContext(env, KindSign, opts...)
	if err != nil {
		return nil, err
	}
	c.signReq = req
	return c, nil
}

// NewRequired creates a child context of parent for req.
func NewRequired(parent *Context, req *rpc.Request, opts ...Option) (*Context, error) {
	opts = append([]Option{WithChain(parent.chainID)}, opts...)
	child, err := NewFromRequests(parent.env, []*rpc.Request{req}, false, opts...)
	if err != nil {
		return nil, err
	}
	parent.AddRequired(child)
	return child, nil
}

// ID is the numeric id used on the wire.
func (c *Context) ID() uint64 { return c.id }

// Trace is the correlation id used in logs.
func (c *Context) Trace() string { return c.trace }

func (c *Context) Kind() Kind                 { return c.kind }
func (c *Context) ChainID() uint64            { return c.chainID }
func (c *Context) Env() *Env                  { return c.env }
func (c *Context) Logger() *slog.Logger       { return c.log }
func (c *Context) Requests() []*rpc.Request   { return c.requests }
func (c *Context) Responses() []*rpc.Response { return c.responses }
func (c *Context) Nodes() []nodelist.Match    { return c.nodes }
func (c *Context) Signers() []nodelist.Match  { return c.signers }
func (c *Context) Attempt() int               { return c.attempt }
func (c *Context) IsBatch() bool              { return c.batch }

// Method returns the method of the first request.
func (c *Context) Method() string {
	if len(c.requests) == 0 {
		return ""
	}
	return c.requests[0].Method
}

// Meta returns the in3 section of the first request, if any.
func (c *Context) Meta() *rpc.RequestMeta {
	if len(c.requests) == 0 {
		return nil
	}
	return c.requests[0].In3
}

// Excluded lists nodes that failed in earlier attempts.
func (c *Context) Excluded() []common.Address {
	return append([]common.Address(nil), c.excluded...)
}

// Err returns the terminal error or nil.
func (c *Context) Err() error {
	if c.err == nil {
		return nil
	}
	return c.err
}

// Signature returns the signature of a finished sign context.
func (c *Context) Signature() []byte { return c.signature }

// State reports the lifecycle position.
func (c *Context) State() State {
	if c.err != nil {
		return StateError
	}
	if c.finished() {
		return StateSuccess
	}
	for _, child := range c.required {
		if !child.terminal() {
			return StateWaitingForRequired
		}
	}
	if c.kind == KindSign {
		if !c.signSent {
			return StateWaitingToSend
		}
		return StateWaitingForResponse
	}
	if c.pending == nil {
		return StateWaitingToSend
	}
	return StateWaitingForResponse
}

func (c *Context) finished() bool {
	if c.kind == KindSign {
		return c.signature != nil
	}
	return c.responses != nil
}

func (c *Context) terminal() bool { return c.err != nil || c.finished() }

// Released reports whether Free was called.
func (c *Context) Released() bool { return c.freed.Load() }

// Timings returns the response times of the nodes asked in the current attempt.
func (c *Context) Timings() []Timing {
	var out []Timing
	for i, s := range c.pending {
		if s.done && s.resp.Err == nil && i < len(c.nodes) {
			out = append(out, Timing{Node: c.nodes[i], Duration: s.resp.Duration})
		}
	}
	return out
}

// AddRequired attaches child to c. c now owns it.
func (c *Context) AddRequired(child *Context) {
	c.required = append(c.required, child)
}

// FindRequired returns the child whose first request calls method.
func (c *Context) FindRequired(method string) *Context {
	for _, child := range c.required {
		if child.Method() == method {
			return child
		}
	}
	return nil
}

func (c *Context) findRequiredRequest(req *rpc.Request) *Context {
	for _, child := range c.required {
		if child.kind == KindRPC && child.Method() == req.Method && bytes.Equal(child.requests[0].Params, req.Params) {
			return child
		}
	}
	return nil
}

func (c *Context) findRequiredSign(req *plugin.SignRequest) *Context {
	for _, child := range c.required {
		if child.kind == KindSign && child.signReq.Account == req.Account && bytes.Equal(child.signReq.Message, req.Message) {
			return child
		}
	}
	return nil
}

// RemoveRequired detaches and frees child. It reports whether child was found.
func (c *Context) RemoveRequired(child *Context) bool {
	for i, ch := range c.required {
		if ch == child {
			c.required = append(c.required[:i], c.required[i+1:]...)
			child.Free()
			return true
		}
	}
	return false
}

// Free releases the context and all children still attached to it.
func (c *Context) Free() {
	if c == nil || c.freed.Load() {
		return
	}
	for _, child := range c.required {
		child.Free()
	}
	c.required = nil
	c.freed.Store(true)
	c.env.release()
}

// Result returns the result of a single request. An error response from the
// node is returned as *rpc.Error.
func (c *Context) Result() (json.RawMessage, error) {
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return nil, errcode.New(errcode.NoResult, "no response available")
	}
	r := c.responses[0]
	if r.Error != nil {
		return nil, r.Error
	}
	return r.Result, nil
}

// ResponseJSON renders the responses as a JSON-RPC reply carrying the ids the
// caller used.
func (c *Context) ResponseJSON() ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.responses == nil {
		return nil, errcode.New(errcode.NoResult, "no response available")
	}
	return rpc.EncodeResponses(c.responses, c.batch)
}

func (c *Context) wireID(i int) json.RawMessage {
	return json.RawMessage(strconv.FormatUint(c.id*1000+uint64(i), 10))
}
