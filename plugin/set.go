package plugin

import (
	"context"
	"errors"
	"fmt"
)

// Capability identifies one pluggable concern.
type Capability uint8

const (
	CapTransport Capability = 1 << iota
	CapVerify
	CapCache
	CapSign
)

func (c Capability) String() string {
	switch c {
	case CapTransport:
		return "transport"
	case CapVerify:
		return "verify"
	case CapCache:
		return "cache"
	case CapSign:
		return "sign"
	default:
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
}

// ErrNotHandled is returned by a Verifier that does not support a method.
var ErrNotHandled = errors.New("not handled")

// UnhandledError reports that no registered plugin took care of an action.
type UnhandledError struct {
	Action Capability
	Detail string
}

func (e *UnhandledError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("no plugin handled action %s", e.Action)
	}
	return fmt.Sprintf("no plugin handled action %s (%s)", e.Action, e.Detail)
}

// Set is the immutable collection of plugins a client was built with.
type Set struct {
	transport Transport
	verifiers []Verifier
	cache     Cache
	signer    Signer
	caps      Capability
}

// Option registers a plugin on a Set.
type Option func(*Set)

func WithTransport(t Transport) Option { return func(s *Set) { s.transport = t } }

// WithVerifier appends a verifier; verifiers are asked in registration order.
func WithVerifier(v Verifier) Option { return func(s *Set) { s.verifiers = append(s.verifiers, v) } }

func WithCache(c Cache) Option { return func(s *Set) { s.cache = c } }

func WithSigner(sg Signer) Option { return func(s *Set) { s.signer = sg } }

// NewSet builds a Set and records which capabilities are present.
func NewSet(opts ...Option) *Set {
	s := &Set{}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.transport != nil {
		s.caps |= CapTransport
	}
	if len(s.verifiers) > 0 {
		s.caps |= CapVerify
	}
	if s.cache != nil {
		s.caps |= CapCache
	}
	if s.signer != nil {
		s.caps |= CapSign
	}
	return s
}

// Has reports whether a capability is registered.
func (s *Set) Has(c Capability) bool {
	return s != nil && s.caps&c == c
}

// Send forwards to the transport.
func (s *Set) Send(ctx context.Context, req *TransportRequest) ([]TransportResponse, error) {
	if !s.Has(CapTransport) {
		return nil, &UnhandledError{Action: CapTransport}
	}
	out := s.transport.Send(ctx, req)
	if len(out) != len(req.URLs) {
		return nil, fmt.Errorf("transport returned %d responses for %d urls", len(out), len(req.URLs))
	}
	return out, nil
}

// Verify asks each verifier in turn until one handles the method. Without any
// verifier registered, verification is a no-op.
func (s *Set) Verify(v *Verification) error {
	if !s.Has(CapVerify) {
		return nil
	}
	for _, verifier := range s.verifiers {
		err := verifier.Verify(v)
		if errors.Is(err, ErrNotHandled) {
			continue
		}
		return err
	}
	return &UnhandledError{Action: CapVerify, Detail: v.Request.Method}
}

// CacheGet reads a key. A missing cache behaves like an empty one.
func (s *Set) CacheGet(key string) ([]byte, bool) {
	if !s.Has(CapCache) {
		return nil, false
	}
	return s.cache.Get(key)
}

// CacheSet stores a value if a cache is registered.
func (s *Set) CacheSet(key string, value []byte) error {
	if !s.Has(CapCache) {
		return nil
	}
	return s.cache.Set(key, value)
}

// CacheClear drops every cached entry.
func (s *Set) CacheClear() error {
	if !s.Has(CapCache) {
		return nil
	}
	return s.cache.Clear()
}

// Sign delegates to the signer.
func (s *Set) Sign(ctx context.Context, req *SignRequest) ([]byte, error) {
	if !s.Has(CapSign) {
		return nil, &UnhandledError{Action: CapSign}
	}
	return s.signer.Sign(ctx, req)
}
