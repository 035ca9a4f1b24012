package delivery

import (
	"fmt"
	"strings"
	"sync"
)

// Permission is the notification permission state.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ParsePermission parses a permission name, case-insensitively.
func ParsePermission(s string) (Permission, error) {
	switch p := Permission(strings.ToLower(strings.TrimSpace(s))); p {
	case PermissionDefault, PermissionGranted, PermissionDenied:
		return p, nil
	}
	return "", fmt.Errorf("unknown notification permission %q", s)
}

// Permissions holds the current permission state. Safe for concurrent use.
type Permissions struct {
	mu sync.RWMutex
	p  Permission
}

func NewPermissions(p Permission) *Permissions {
	return &Permissions{p: p}
}

func (ps *Permissions) Get() Permission {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.p
}

func (ps *Permissions) Set(p Permission) {
	ps.mu.Lock()
	ps.p = p
	ps.mu.Unlock()
}

// Granted reports whether notifications may be shown.
func (ps *Permissions) Granted() bool {
	return ps.Get() == PermissionGranted
}
