package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/meteo-pwa/internal/models"
)

// ErrNoActiveWorker is returned when a message needs an active worker and there is none.
var ErrNoActiveWorker = errors.New("no active worker")

// Registration tracks the installing, waiting and active workers of one scope and
// the worker controlling the page.
type Registration struct {
	skipWaitingOnInstall bool
	logger               *zap.Logger

	// lifecycle serializes install and activation steps.
	lifecycle sync.Mutex

	mu               sync.Mutex
	installing       *Worker
	waiting          *Worker
	active           *Worker
	controller       *Worker
	controllerChange chan struct{}
}

// NewRegistration creates an empty registration. When skipWaitingOnInstall is set a
// freshly installed worker activates at once even if an older one is active.
func NewRegistration(skipWaitingOnInstall bool, logger *zap.Logger) *Registration {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registration{
		skipWaitingOnInstall: skipWaitingOnInstall,
		logger:               logger,
		controllerChange:     make(chan struct{}),
	}
}

// Register installs w. After a successful install w waits, or activates immediately
// when nothing is active yet or skip-waiting-on-install is set.
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	r.installing = w
	r.mu.Unlock()

	err := w.Install(ctx)

	r.mu.Lock()
	r.installing = nil
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if prev := r.waiting; prev != nil && prev != w {
		prev.markReplaced()
	}
	r.waiting = w
	activateNow := r.active == nil || r.skipWaitingOnInstall
	r.mu.Unlock()

	r.logger.Info("worker installed", zap.String("version", w.Version()), zap.Bool("activate_now", activateNow))
	if !activateNow {
		return nil
	}
	return r.activateWaiting(ctx)
}

// SkipWaiting activates the waiting worker, if any, without waiting for pages to close.
func (r *Registration) SkipWaiting(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.activateWaiting(ctx)
}

// Release signals that every client page has closed, which lets a waiting worker activate.
func (r *Registration) Release(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if w := r.Waiting(); w != nil {
		r.logger.Info("clients released, activating waiting worker", zap.String("version", w.Version()))
	}
	return r.activateWaiting(ctx)
}

// activateWaiting promotes the waiting worker and claims the page. Caller holds lifecycle.
func (r *Registration) activateWaiting(ctx context.Context) error {
	r.mu.Lock()
	w := r.waiting
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	if err := w.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev := r.active; prev != nil && prev != w {
		prev.markReplaced()
	}
	r.active = w
	r.waiting = nil
	r.claimLocked(w)
	return nil
}

func (r *Registration) claimLocked(w *Worker) {
	if r.controller == w {
		return
	}
	r.controller = w
	close(r.controllerChange)
	r.controllerChange = make(chan struct{})
	r.logger.Info("worker claimed clients", zap.String("version", w.Version()))
}

// Installing, Waiting, Active and Controller return the worker in each slot, or nil.
func (r *Registration) Installing() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installing
}

func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registration) Controller() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controller
}

// Registered reports whether any worker is installing, waiting or active.
func (r *Registration) Registered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installing != nil || r.waiting != nil || r.active != nil
}

// Controlling reports whether an active worker controls the page.
func (r *Registration) Controlling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controller != nil && r.controller == r.active
}

// ControllerChange returns a channel closed at the next controller change.
// Fetch it before checking Controlling to avoid missing a change.
func (r *Registration) ControllerChange() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controllerChange
}

// Post sends a SHOW_NOTIFICATION message for n to the active worker.
func (r *Registration) Post(ctx context.Context, n models.Notification) error {
	return r.Message(ctx, NotificationMessage(n))
}

// Message routes a control message: SKIP_WAITING to the waiting worker and
// SHOW_NOTIFICATION to the active one.
func (r *Registration) Message(ctx context.Context, m Message) error {
	switch m.Type {
	case MessageSkipWaiting:
		return r.SkipWaiting(ctx)
	case MessageShowNotification:
		w := r.Active()
		if w == nil {
			return ErrNoActiveWorker
		}
		return w.ShowNotification(ctx, m)
	}
	return fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
}
