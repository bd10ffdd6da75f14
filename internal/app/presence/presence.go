/*
Package presence defines the externally visible presence status of a user.

The relay flips a user's status to online on connect and offline on disconnect;
away and busy are set manually through the REST surface. The persisted record
(status plus last-seen timestamp) is read by collaborators outside this core.
*/
package presence

import "time"

// Status is the persisted presence state of a user.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
)

// Valid reports whether s is one of the known presence statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return true
	}
	return false
}

// Record is a user's last-known presence as stored in the presence store.
type Record struct {
	UserID   string    `json:"userId"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}
