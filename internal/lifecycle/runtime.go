// Hosts offline workers: dispatches install, activate and fetch events
package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Host is the part of the runtime a worker can signal during its events
type Host interface {
	// SkipWaiting asks for activation right after install, even when another worker is active
	SkipWaiting()
	// Claim makes the worker control every client immediately instead of after a reload
	Claim()
}

// Worker handles the lifecycle events dispatched by the Runtime
type Worker interface {
	OnInstall(ctx context.Context, host Host) error
	OnActivate(ctx context.Context, host Host) error
	// OnFetch answers a request; the boolean reports whether it came from the cache
	OnFetch(req *http.Request) (*http.Response, bool, error)
}

// Doer performs network requests, *http.Client implements it
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NetworkRequest prepares an incoming server request to be sent by a Doer
func NetworkRequest(req *http.Request) *http.Request {
	out := req.Clone(req.Context())
	out.RequestURI = ""
	return out
}

// Runtime tracks the active, waiting and controlling workers
type Runtime struct {
	network Doer

	mu         sync.Mutex
	active     *Registration
	waiting    *Registration
	controller *Registration
}

// NewRuntime creates a runtime that fetches from network when no worker controls clients
func NewRuntime(network Doer) *Runtime {
	return &Runtime{network: network}
}

// Register installs the worker and, when possible, activates it.
// The returned registration resolves once the worker is activated, waiting or redundant.
func (rt *Runtime) Register(ctx context.Context, w Worker) *Registration {
	reg := &Registration{
		worker:    w,
		runtime:   rt,
		activated: make(chan struct{}),
	}
	reg.task = Go(ctx, reg.run)
	return reg
}

// Fetch dispatches a fetch event to the controlling worker, or goes to the network
func (rt *Runtime) Fetch(req *http.Request) (*http.Response, bool, error) {
	rt.mu.Lock()
	ctrl := rt.controller
	rt.mu.Unlock()

	if ctrl == nil {
		resp, err := rt.network.Do(NetworkRequest(req))
		return resp, false, err
	}

	// fetch events wait for the activate event to complete
	select {
	case <-ctrl.activated:
	case <-req.Context().Done():
		return nil, false, req.Context().Err()
	}
	return ctrl.worker.OnFetch(req)
}

// Reload emulates every client reloading: a waiting worker activates and
// the active worker starts controlling clients.
func (rt *Runtime) Reload(ctx context.Context) error {
	rt.mu.Lock()
	waiting := rt.waiting
	rt.mu.Unlock()

	var err error
	if waiting != nil {
		err = rt.activate(ctx, waiting)
	}

	rt.mu.Lock()
	if rt.active != nil {
		rt.controller = rt.active
	}
	rt.mu.Unlock()
	return err
}

// Active returns the active worker, nil if none
func (rt *Runtime) Active() Worker {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.active == nil {
		return nil
	}
	return rt.active.worker
}

// Waiting returns the installed worker waiting for activation, nil if none
func (rt *Runtime) Waiting() Worker {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.waiting == nil {
		return nil
	}
	return rt.waiting.worker
}

// Controller returns the worker answering fetches, nil if requests go to the network
func (rt *Runtime) Controller() Worker {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.controller == nil {
		return nil
	}
	return rt.controller.worker
}

func (rt *Runtime) activate(ctx context.Context, r *Registration) error {
	rt.mu.Lock()
	switch r.State() {
	case StateActivating, StateActivated, StateRedundant:
		rt.mu.Unlock()
		return nil
	}
	if rt.waiting == r {
		rt.waiting = nil
	}
	if prev := rt.active; prev != nil && prev != r {
		prev.setState(StateRedundant)
		// clients of the replaced worker move to the new one
		if rt.controller == prev {
			rt.controller = r
		}
	}
	rt.active = r
	r.setState(StateActivating)
	rt.mu.Unlock()

	err := r.worker.OnActivate(ctx, r)

	r.setState(StateActivated)
	close(r.activated)

	if err != nil {
		// a failed activate handler does not prevent activation
		logrus.Errorf("Worker activate handler failed: %v", err)
		return fmt.Errorf("activate failed: %w", err)
	}
	logrus.Infof("Worker activated")
	return nil
}

func (rt *Runtime) claim(r *Registration) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.active != r {
		logrus.Warnf("Ignoring claim from a worker that is not active")
		return
	}
	rt.controller = r
}

// Registration is one worker going through the lifecycle
type Registration struct {
	worker      Worker
	runtime     *Runtime
	state       atomic.Int32
	skipWaiting atomic.Bool
	activated   chan struct{}
	task        *Task
}

// SkipWaiting implements Host
func (r *Registration) SkipWaiting() {
	r.skipWaiting.Store(true)
}

// Claim implements Host
func (r *Registration) Claim() {
	r.runtime.claim(r)
}

// State returns the current lifecycle state
func (r *Registration) State() State {
	return State(r.state.Load())
}

// Worker returns the registered worker
func (r *Registration) Worker() Worker {
	return r.worker
}

// Wait blocks until install, and activation when it is not deferred, are done
func (r *Registration) Wait(ctx context.Context) error {
	return r.task.Wait(ctx)
}

// Done is closed when Wait would return immediately
func (r *Registration) Done() <-chan struct{} {
	return r.task.Done()
}

func (r *Registration) setState(s State) {
	r.state.Store(int32(s))
}

func (r *Registration) run(ctx context.Context) error {
	r.setState(StateInstalling)
	if err := r.worker.OnInstall(ctx, r); err != nil {
		r.setState(StateRedundant)
		logrus.Errorf("Worker install failed: %v", err)
		return fmt.Errorf("install failed: %w", err)
	}
	r.setState(StateInstalled)

	rt := r.runtime
	rt.mu.Lock()
	if rt.active != nil && !r.skipWaiting.Load() {
		if rt.waiting != nil {
			rt.waiting.setState(StateRedundant)
		}
		rt.waiting = r
		rt.mu.Unlock()
		logrus.Infof("Worker installed, waiting for clients to reload")
		return nil
	}
	rt.mu.Unlock()

	return rt.activate(ctx, r)
}
