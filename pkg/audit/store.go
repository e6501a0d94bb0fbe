// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"time"
)

// Store is the durable backend for audit entries. Implementations only
// ever append and read; entries are immutable once written.
type Store interface {
	// Append durably persists an entry.
	Append(ctx context.Context, entry *Entry) error

	// Query returns entries matching the filter in append order.
	Query(ctx context.Context, filter Filter) ([]*Entry, error)
}

// Filter selects audit entries. All set fields must match (conjunctive).
type Filter struct {
	Action    Action
	Level     Level
	ActorID   string
	PatientID string
	From      time.Time
	To        time.Time
	// Limit bounds the result size; zero means no limit.
	Limit int
}

// Matches reports whether the entry satisfies every set filter field.
func (f Filter) Matches(e *Entry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.ActorID != "" && e.Actor.ID != f.ActorID {
		return false
	}
	if f.PatientID != "" && e.PatientID != f.PatientID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}
