package records

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/campusdesk/campusdesk/pkg/stores"
)

// Mode is the backend strategy the store is running on.
type Mode string

const (
	ModeUninitialized Mode = "uninitialized"
	ModeRemote        Mode = "remote"
	ModeLocal         Mode = "local"
)

// ErrNotInitialized is returned by operations attempted before Initialize.
var ErrNotInitialized = errors.New("record store is not initialized")

// DemoteFunc observes a remote to local transition.
type DemoteFunc func(ctx context.Context, backend string, cause error)

// Policy decides which backend serves an operation. It owns the mode state
// machine: uninitialized -> remote | local, remote -> local. Local is terminal.
type Policy struct {
	mu       sync.RWMutex
	mode     Mode
	remote   stores.Backend
	local    stores.Backend
	timeout  time.Duration
	onDemote DemoteFunc
}

// NewPolicy creates a policy over an optional remote backend and the local
// fallback. opTimeout bounds each remote call; zero means unbounded.
func NewPolicy(remote, local stores.Backend, opTimeout time.Duration, onDemote DemoteFunc) *Policy {
	return &Policy{
		mode:     ModeUninitialized,
		remote:   remote,
		local:    local,
		timeout:  opTimeout,
		onDemote: onDemote,
	}
}

// Mode returns the current mode.
func (p *Policy) Mode() Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// Active returns the backend serving operations, or nil before Initialize.
func (p *Policy) Active() stores.Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch p.mode {
	case ModeRemote:
		return p.remote
	case ModeLocal:
		return p.local
	default:
		return nil
	}
}

// Initialize probes the remote backend within probeTimeout. The returned
// error is the probe failure, informational only: the policy is usable in
// local mode either way. Initializing twice is a no-op.
func (p *Policy) Initialize(ctx context.Context, probeTimeout time.Duration) (Mode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode != ModeUninitialized {
		return p.mode, nil
	}
	if err := p.local.Open(ctx); err != nil {
		return p.mode, NewInternalError("failed to open local backend", err)
	}
	if p.remote == nil {
		p.mode = ModeLocal
		return p.mode, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := p.remote.Open(probeCtx)
	if err == nil {
		err = p.remote.HealthCheck(probeCtx)
	}
	if err != nil {
		_ = p.remote.Close()
		p.remote = nil
		p.mode = ModeLocal
		return p.mode, NewConnectivityError("remote backend unavailable", err)
	}

	p.mode = ModeRemote
	return p.mode, nil
}

// Do runs fn against the active backend. If the remote backend fails with
// anything other than a data-integrity error, the policy demotes to local
// and runs fn once more against the local backend. fn must therefore
// perform its checks and writes against the backend it is given.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context, b stores.Backend) error) error {
	p.mu.RLock()
	mode, remote, local := p.mode, p.remote, p.local
	p.mu.RUnlock()

	switch mode {
	case ModeUninitialized:
		return ErrNotInitialized
	case ModeLocal:
		return fn(ctx, local)
	}

	rctx, cancel := ctx, context.CancelFunc(func() {})
	if p.timeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	err := fn(rctx, remote)
	cancel()

	if err == nil || !isBackendFailure(err) {
		return err
	}
	if ctx.Err() != nil {
		// The caller gave up; that says nothing about the backend.
		return NewCanceledError(context.Cause(ctx))
	}

	p.demote(ctx, remote, err)
	return fn(ctx, local)
}

// demote switches to local mode if b is still the active remote backend.
func (p *Policy) demote(ctx context.Context, b stores.Backend, cause error) {
	p.mu.Lock()
	if p.mode != ModeRemote || p.remote != b {
		p.mu.Unlock()
		return
	}
	p.mode = ModeLocal
	p.remote = nil
	p.mu.Unlock()

	_ = b.Close()
	if p.onDemote != nil {
		p.onDemote(ctx, b.Name(), cause)
	}
}

// Close closes both backends.
func (p *Policy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.remote != nil {
		errs = append(errs, p.remote.Close())
		p.remote = nil
	}
	errs = append(errs, p.local.Close())
	return errors.Join(errs...)
}

// isBackendFailure reports whether err says something about the backend
// rather than the data.
func isBackendFailure(err error) bool {
	if stores.IsDomainError(err) {
		return false
	}
	switch ClassOf(err) {
	case "", ErrorClassConnectivity, ErrorClassInternal:
		return true
	default:
		return false
	}
}
