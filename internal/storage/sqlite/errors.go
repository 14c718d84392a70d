package sqlite

import (
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/willibrandon/devicealarm/internal/alerts"
)

// classify maps driver errors onto the alerts error taxonomy.
// Foreign key failures wrap alerts.ErrReferenceMissing; busy, locked and
// I/O failures become alerts.TransportError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w: %v", op, alerts.ErrReferenceMissing, err)
		case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked,
			se.Code == sqlite3.ErrIoErr, se.Code == sqlite3.ErrCantOpen:
			return &alerts.TransportError{Op: op, Err: err}
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
