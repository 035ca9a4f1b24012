package worker

import (
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from    Phase
		event   Event
		want    Phase
		wantErr bool
	}{
		{PhaseInstalling, EventInstalled, PhaseWaiting, false},
		{PhaseInstalling, EventInstallFailed, PhaseRedundant, false},
		{PhaseWaiting, EventActivated, PhaseActive, false},
		{PhaseActive, EventActivated, PhaseActive, false},
		{PhaseWaiting, EventReplaced, PhaseRedundant, false},
		{PhaseActive, EventReplaced, PhaseRedundant, false},
		{PhaseInstalling, EventActivated, PhaseInstalling, true},
		{PhaseWaiting, EventInstalled, PhaseWaiting, true},
		{PhaseRedundant, EventActivated, PhaseRedundant, true},
		{PhaseRedundant, EventReplaced, PhaseRedundant, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("Transition() error = %v, want ErrInvalidTransition", err)
				}
			} else if err != nil {
				t.Fatalf("Transition() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Transition(%s, %s) = %s, want %s", tt.from, tt.event, got, tt.want)
			}
		})
	}
}
