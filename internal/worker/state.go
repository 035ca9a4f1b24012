package worker

import (
	"errors"
	"fmt"
)

// Phase is a worker lifecycle phase.
type Phase string

// Phases in lifecycle order; a redundant worker never serves again.
const (
	PhaseInstalling Phase = "installing"
	PhaseWaiting    Phase = "waiting"
	PhaseActive     Phase = "active"
	PhaseRedundant  Phase = "redundant"
)

// Event drives a phase transition.
type Event string

// Events reported by Install, Activate and the registration.
const (
	EventInstalled     Event = "installed"
	EventInstallFailed Event = "install_failed"
	EventActivated     Event = "activated"
	EventReplaced      Event = "replaced"
)

// ErrInvalidTransition is returned for an event that is not allowed in the current phase.
var ErrInvalidTransition = errors.New("invalid worker transition")

// Transition returns the phase reached from p on event e.
// Activating an active worker is allowed and leaves it active.
func Transition(p Phase, e Event) (Phase, error) {
	switch {
	case p == PhaseInstalling && e == EventInstalled:
		return PhaseWaiting, nil
	case p == PhaseInstalling && e == EventInstallFailed:
		return PhaseRedundant, nil
	case p == PhaseWaiting && e == EventActivated:
		return PhaseActive, nil
	case p == PhaseActive && e == EventActivated:
		return PhaseActive, nil
	case (p == PhaseWaiting || p == PhaseActive) && e == EventReplaced:
		return PhaseRedundant, nil
	}
	return p, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, p)
}
