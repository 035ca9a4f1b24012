package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kjstillabower/meteo-pwa/internal/models"
)

// TrayItem is a notification currently on display.
type TrayItem struct {
	models.Notification
	ShownAt time.Time `json:"shownAt"`
	// Replaced counts earlier notifications with the same tag collapsed into this one.
	Replaced int `json:"replaced"`
}

// Tray is an in-memory notification display keyed by tag: a notification replaces
// any displayed one with the same tag.
type Tray struct {
	mu    sync.Mutex
	items map[string]TrayItem
	now   func() time.Time
}

// NewTray creates an empty tray. now defaults to time.Now.
func NewTray(now func() time.Time) *Tray {
	if now == nil {
		now = time.Now
	}
	return &Tray{items: make(map[string]TrayItem), now: now}
}

func (t *Tray) Show(ctx context.Context, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	item := TrayItem{Notification: n, ShownAt: t.now()}
	if prev, ok := t.items[n.Tag]; ok {
		item.Replaced = prev.Replaced + 1
	}
	t.items[n.Tag] = item
	return nil
}

// List returns displayed notifications, most recent first.
func (t *Tray) List() []TrayItem {
	t.mu.Lock()
	out := make([]TrayItem, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, it)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShownAt.Equal(out[j].ShownAt) {
			return out[i].Tag < out[j].Tag
		}
		return out[i].ShownAt.After(out[j].ShownAt)
	})
	return out
}

// Clear dismisses every notification.
func (t *Tray) Clear() {
	t.mu.Lock()
	t.items = make(map[string]TrayItem)
	t.mu.Unlock()
}
