package models

// Notification is a request to display a local notification.
// Notifications with the same Tag replace each other.
type Notification struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	Tag                string `json:"tag"`
	Icon               string `json:"icon,omitempty"`
	Badge              string `json:"badge,omitempty"`
	RequireInteraction bool   `json:"requireInteraction"`
	Vibrate            []int  `json:"vibrate,omitempty"`
}
