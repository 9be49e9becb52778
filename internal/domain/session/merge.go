package session

import (
	"github.com/google/uuid"

	"codepulse/pkg/errors"
)

// Validate checks the event invariants shared by every transport.
// Negative deltas signal a corrupted or miscoded client and are rejected
// outright rather than clamped.
func Validate(ev Event) error {
	if ev.UserID == "" {
		return errors.NewValidationError("userId", "required", ev.UserID)
	}
	if ev.FilePath == "" {
		return errors.NewValidationError("filePath", "required", ev.FilePath)
	}
	if ev.FileName == "" {
		return errors.NewValidationError("fileName", "required", ev.FileName)
	}
	if ev.DurationMs < 0 {
		return errors.Wrapf(errors.ErrNegativeDelta, "duration %d", ev.DurationMs)
	}
	if ev.LinesChanged < 0 {
		return errors.Wrapf(errors.ErrNegativeDelta, "linesChanged %d", ev.LinesChanged)
	}
	if ev.CharactersTyped < 0 {
		return errors.Wrapf(errors.ErrNegativeDelta, "charactersTyped %d", ev.CharactersTyped)
	}
	return nil
}

// Merge folds one validated event into the open session state for its key.
// A nil existing state starts a fresh session with a new id; otherwise the
// delta fields are accumulated. Merge is a pure accumulator: it performs no
// deduplication, the gateway is responsible for dropping retransmissions
// before they reach here.
func Merge(existing *Open, ev Event) (*Open, error) {
	if err := Validate(ev); err != nil {
		return existing, err
	}

	if existing == nil {
		open := &Open{
			SessionID:       uuid.New(),
			UserID:          ev.UserID,
			FileName:        ev.FileName,
			FilePath:        ev.FilePath,
			Language:        ev.Language,
			Folder:          ev.Folder,
			StartedAt:       ev.Timestamp,
			LastSeenAt:      ev.Timestamp,
			DurationMs:      ev.DurationMs,
			LinesChanged:    ev.LinesChanged,
			CharactersTyped: ev.CharactersTyped,
		}
		if !ev.IsActive {
			open.Closed = true
		}
		return open, nil
	}

	if existing.Closed {
		return existing, errors.Wrapf(errors.ErrSessionClosed,
			"user=%s file=%s", ev.UserID, ev.FilePath)
	}

	existing.DurationMs += ev.DurationMs
	existing.LinesChanged += ev.LinesChanged
	existing.CharactersTyped += ev.CharactersTyped
	if ev.Timestamp.After(existing.LastSeenAt) {
		existing.LastSeenAt = ev.Timestamp
	}
	if !ev.IsActive {
		existing.Closed = true
	}

	return existing, nil
}
