package document

import "time"

// Epoch — положение интервала действия документа относительно даты.
type Epoch string

const (
	EpochPast    Epoch = "past"
	EpochCurrent Epoch = "current"
	EpochFuture  Epoch = "future"
)

// EpochOf классифицирует интервал [from, to] относительно today.
func EpochOf(from, to, today time.Time) Epoch {
	d := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case to.Before(d):
		return EpochPast
	case from.After(d):
		return EpochFuture
	default:
		return EpochCurrent
	}
}
