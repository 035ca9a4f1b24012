package delivery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/meteo-pwa/internal/models"
	"github.com/kjstillabower/meteo-pwa/internal/observability"
)

// Channel is the delivery channel that displayed a notification.
type Channel string

const (
	ChannelNone       Channel = "none"
	ChannelBackground Channel = "background"
	ChannelDirect     Channel = "direct"
)

// DefaultControllerWait bounds the wait for the background context to take control.
const DefaultControllerWait = 2 * time.Second

// ErrNoDisplay is returned when the direct channel has no display to use.
var ErrNoDisplay = errors.New("no direct display configured")

// Display shows a notification.
type Display interface {
	Show(ctx context.Context, n models.Notification) error
}

// Background is a background execution context that can display notifications.
type Background interface {
	// Registered reports whether a background context exists in any phase.
	Registered() bool
	// Controlling reports whether an active background context controls the page.
	Controlling() bool
	// ControllerChange returns a channel closed on the next control change.
	ControllerChange() <-chan struct{}
	Post(ctx context.Context, n models.Notification) error
}

// Selector delivers each notification through exactly one channel: the background
// context when it is (or becomes, within the wait) in control, otherwise direct display.
type Selector struct {
	permissions *Permissions
	background  Background
	direct      Display
	wait        time.Duration
	logger      *zap.Logger
}

// NewSelector creates a Selector. background may be nil. wait <= 0 uses DefaultControllerWait.
func NewSelector(permissions *Permissions, background Background, direct Display, wait time.Duration, logger *zap.Logger) *Selector {
	if wait <= 0 {
		wait = DefaultControllerWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		permissions: permissions,
		background:  background,
		direct:      direct,
		wait:        wait,
		logger:      logger,
	}
}

// Deliver shows n and reports the channel used. Without granted permission it is a
// no-op returning ChannelNone and no error. A failed background post falls back to
// direct display; an error is returned only if direct display fails too.
func (s *Selector) Deliver(ctx context.Context, n models.Notification) (Channel, error) {
	if s.permissions == nil || !s.permissions.Granted() {
		s.logger.Debug("notification skipped, permission not granted", zap.String("tag", n.Tag))
		return ChannelNone, nil
	}

	if s.background != nil && s.background.Registered() {
		if s.awaitController(ctx) {
			err := s.background.Post(ctx, n)
			if err == nil {
				return ChannelBackground, nil
			}
			observability.NotificationDeliveryErrorsTotal.WithLabelValues(string(ChannelBackground)).Inc()
			s.logger.Warn("background notification failed, falling back to direct", zap.String("tag", n.Tag), zap.Error(err))
		} else {
			s.logger.Debug("background context not in control, using direct display", zap.Duration("waited", s.wait))
		}
	}

	if s.direct == nil {
		return ChannelNone, ErrNoDisplay
	}
	if err := s.direct.Show(ctx, n); err != nil {
		observability.NotificationDeliveryErrorsTotal.WithLabelValues(string(ChannelDirect)).Inc()
		return ChannelNone, err
	}
	return ChannelDirect, nil
}

// awaitController waits until the background context controls the page, the wait
// elapses or ctx ends, whichever comes first. The timer is stopped on every path.
func (s *Selector) awaitController(ctx context.Context) bool {
	change := s.background.ControllerChange()
	if s.background.Controlling() {
		return true
	}
	timer := time.NewTimer(s.wait)
	defer timer.Stop()
	for {
		select {
		case <-change:
			if s.background.Controlling() {
				return true
			}
			change = s.background.ControllerChange()
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
