package request

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/errcode"
	"trustclient/nodelist"
	"trustclient/plugin"
)

// maxStartRounds bounds how often one Execute call starts newly added
// required contexts.
const maxStartRounds = 8

// Execute advances the context by one step. It returns StatusOK once the
// result is available, StatusWaiting when input is missing, or the terminal
// error. Children are always driven to completion before the context itself
// makes progress.
func (c *Context) Execute() (Status, error) {
	if c.err != nil {
		return StatusOK, c.err
	}
	if c.finished() {
		return StatusOK, nil
	}

	for round := 0; ; round++ {
		if status, done, err := c.executeRequired(); done {
			return status, err
		}
		var (
			status Status
			err    error
		)
		if c.kind == KindSign {
			status, err = c.executeSign()
		} else {
			status, err = c.executeRPC()
		}
		if err != nil || status != StatusWaiting || round >= maxStartRounds || !c.hasUnstartedChild() {
			return status, err
		}
	}
}

// hasUnstartedChild reports whether a required context was added that has
// not been executed yet.
func (c *Context) hasUnstartedChild() bool {
	for _, child := range c.required {
		if child.terminal() {
			continue
		}
		if child.kind == KindSign && !child.signSent {
			return true
		}
		if child.kind == KindRPC && child.pending == nil {
			return true
		}
	}
	return false
}

// executeRequired drives the first unfinished child. done is true when the
// parent must not proceed in this step.
func (c *Context) executeRequired() (Status, bool, error) {
	for i := 0; i < len(c.required); i++ {
		child := c.required[i]
		if child.finished() {
			continue
		}
		status, err := child.Execute()
		if err == nil {
			if status == StatusWaiting {
				return StatusWaiting, true, nil
			}
			continue
		}
		if child.allowFail {
			herr := c.env.Selector.HandleFailable(c, child)
			c.RemoveRequired(child)
			if herr != nil {
				s, e := c.fail(herr)
				return s, true, e
			}
			i--
			continue
		}
		s, e := c.fail(errcode.Wrap(errcode.CodeOf(err), "error in required request "+child.Method(), err))
		return s, true, e
	}
	return StatusOK, false, nil
}

func (c *Context) executeSign() (Status, error) {
	if !c.signSent {
		c.signSent = true
		return StatusWaiting, nil
	}
	if c.signErr != nil {
		return c.fail(errcode.Wrap(errcode.CodeOf(c.signErr), "signing failed", c.signErr))
	}
	if c.signature == nil {
		return StatusWaiting, nil
	}
	return StatusOK, nil
}

func (c *Context) executeRPC() (Status, error) {
	if c.pending == nil {
		if err := c.selectNodes(); err != nil {
			if errcode.IsWaiting(err) {
				return StatusWaiting, nil
			}
			if earlier := c.attemptErrors(); earlier != nil {
				err = errcode.Wrap(errcode.CodeOf(err), err.Error(), earlier)
			}
			return c.fail(err)
		}
		c.pending = make([]slot, len(c.nodes))
		return StatusWaiting, nil
	}

	var attemptErr error
	for i := range c.nodes {
		s := &c.pending[i]
		if !s.done {
			return StatusWaiting, nil
		}
		if s.checked {
			continue
		}
		err := c.verifyNodeResponse(i)
		if errcode.IsWaiting(err) {
			return StatusWaiting, nil
		}
		s.checked = true
		if err == nil {
			c.accept(c.nodes[i])
			return StatusOK, nil
		}
		var unhandled *plugin.UnhandledError
		if errors.As(err, &unhandled) {
			return c.fail(errcode.Wrap(errcode.NotSupported, "verification failed", err))
		}
		attemptErr = chain(attemptErr, err)
	}
	return c.retry(attemptErr)
}

func (c *Context) accept(node nodelist.Match) {
	for i, r := range c.responses {
		if i < len(c.requests) && len(c.requests[i].ID) > 0 {
			r.ID = c.requests[i].ID
		}
	}
	if c.env.Selector != nil && node.Index >= 0 {
		c.env.Selector.Followup(c, node)
	}
	c.log.Debug("request finished", "method", c.Method(), "node", node.URL, "attempt", c.attempt+1)
}

func (c *Context) selectNodes() error {
	if url := c.explicitRPC(); url != "" {
		c.nodes = []nodelist.Match{{Index: -1, URL: url}}
		return nil
	}
	if c.env.Selector == nil {
		return errcode.New(errcode.Config, "no node selector configured")
	}
	nodes, err := c.env.Selector.PickData(c)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nodelist.ErrNoNodes
	}
	if c.env.Config.SignatureCount > 0 && c.env.Config.Proof != ProofNone {
		signers, err := c.env.Selector.PickSigners(c, nodes)
		if err != nil {
			return err
		}
		c.signers = signers
	}
	c.nodes = nodes
	return nil
}

func (c *Context) explicitRPC() string {
	for _, r := range c.requests {
		if r.In3 != nil && r.In3.RPC != "" {
			return r.In3.RPC
		}
	}
	return ""
}

// retry starts a new attempt or gives up once the attempts are exhausted.
func (c *Context) retry(cause error) (Status, error) {
	if cause == nil {
		cause = errcode.New(errcode.RPC, "no valid response")
	}
	c.history = append(c.history, cause)
	c.attempt++
	c.pending = nil
	c.nodes = nil
	c.signers = nil
	c.responses = nil

	if c.attempt < c.env.maxAttempts() {
		c.log.Debug("retrying request", "method", c.Method(), "attempt", c.attempt+1, "err", cause)
		return c.executeRPC()
	}

	code := errcode.Limit
	if c.allowFail {
		code = errcode.Ignore
	}
	return c.fail(errcode.Wrap(code, "reaching max_attempts and giving up", c.attemptErrors()))
}

// attemptErrors chains the failures of all previous attempts, oldest last.
func (c *Context) attemptErrors() error {
	var joined error
	for _, e := range c.history {
		joined = chain(joined, e)
	}
	return joined
}

// fail records a terminal error, prefixing it onto any earlier one.
func (c *Context) fail(err error) (Status, error) {
	var e *errcode.Error
	if !errors.As(err, &e) {
		e = errcode.Wrap(errcode.Unknown, err.Error(), nil)
	}
	if c.err != nil {
		e = errcode.Wrap(e.Code, e.Error(), c.err)
	}
	c.err = e
	c.log.Debug("request failed", "method", c.Method(), "err", e)
	return StatusOK, c.err
}

// chain prefixes newer onto older.
func chain(older, newer error) error {
	if older == nil {
		return newer
	}
	return errcode.Wrap(errcode.CodeOf(newer), newer.Error(), older)
}

// exclude keeps a node out of the following attempts of this context.
func (c *Context) exclude(node nodelist.Match) {
	if node.Address != (common.Address{}) {
		c.excluded = append(c.excluded, node.Address)
	}
}

// blacklist punishes a node and excludes it.
func (c *Context) blacklist(node nodelist.Match, reason string) {
	if node.Address == (common.Address{}) {
		return
	}
	c.exclude(node)
	if c.env.Selector != nil {
		c.env.Selector.Blacklist(c, node.Address, reason)
	}
}

func nodeLabel(node nodelist.Match) string {
	if node.Address == (common.Address{}) {
		return node.URL
	}
	return fmt.Sprintf("%s (%s)", node.URL, node.Address.Hex())
}
