package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite and bolt lock wait; 0 means default
}

// RunRecord is one journal entry. Keep it compact and schema-stable.
type RunRecord struct {
	RunID     string    `json:"run_id"`
	Mode      string    `json:"mode"`
	State     string    `json:"state"`
	Success   bool      `json:"success"`
	Skipped   bool      `json:"skipped,omitempty"`
	Items     int       `json:"items"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
	ErrKind   string    `json:"err_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

// TookMS is the run duration in milliseconds.
func (r RunRecord) TookMS() int64 {
	if r.Finished.Before(r.Started) {
		return 0
	}
	return r.Finished.Sub(r.Started).Milliseconds()
}
