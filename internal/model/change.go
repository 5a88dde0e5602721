package model

import "time"

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one row-level change delivered by the realtime feed.
// New is set for INSERT and UPDATE, Old for UPDATE and DELETE.
type ChangeEvent struct {
	Table           string    `json:"table"`
	EventType       EventType `json:"eventType"`
	New             Row       `json:"new,omitempty"`
	Old             Row       `json:"old,omitempty"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
}

// HomeID returns the owning home of the changed row, preferring the new row.
func (e ChangeEvent) HomeID() string {
	if id := e.New.String("home_id"); id != "" {
		return id
	}
	return e.Old.String("home_id")
}

// RowID returns the identifier of the changed row, preferring the new row.
func (e ChangeEvent) RowID() string {
	if id := e.New.String("id"); id != "" {
		return id
	}
	return e.Old.String("id")
}
