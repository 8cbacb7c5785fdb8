package models

import (
	"time"
)

// Status represents the recording lifecycle.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRecording Status = "recording"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusFailed:
		return true
	}
	return false
}

// CanTransition enforces the forward-only transition graph.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusStarting:
		return to == StatusRecording || to == StatusFailed || to == StatusStopped
	case StatusRecording:
		return to == StatusCompleted || to == StatusStopped
	default:
		return false
	}
}

// Recording is one capture job keyed by the caller-supplied event id.
type Recording struct {
	EventID         string     `json:"event_id"`
	EventName       string     `json:"event_name"`
	SafeName        string     `json:"safe_name"`
	Status          Status     `json:"status"`
	ProgressPercent float64    `json:"progress_percent"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	OutputDir       string     `json:"output_dir"`
	HLSPath         string     `json:"hls_path"`
	MP4Path         string     `json:"mp4_path"`
	TimeshiftURL    string     `json:"timeshift_url,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// RecordingStatus is the list view of a recording.
type RecordingStatus struct {
	EventID         string  `json:"event_id"`
	EventName       string  `json:"event_name"`
	Status          Status  `json:"status"`
	ProgressPercent float64 `json:"progress_percent"`
	TimeshiftURL    *string `json:"timeshift_url"`
}

// StatusView returns the list projection; timeshift_url is null until available.
func (r Recording) StatusView() RecordingStatus {
	v := RecordingStatus{
		EventID:         r.EventID,
		EventName:       r.EventName,
		Status:          r.Status,
		ProgressPercent: r.ProgressPercent,
	}
	if r.TimeshiftURL != "" {
		u := r.TimeshiftURL
		v.TimeshiftURL = &u
	}
	return v
}
