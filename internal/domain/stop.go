package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used for driver-day grouping.
const DateLayout = "2006-01-02"

// Stop is a single driver check-in handed over by the ingestion collaborator.
// Stops are read-only once they enter the engine; SequenceIndex is assigned
// on a copy when the daily sequence is built.
type Stop struct {
	DriverID      string
	Date          string
	SequenceIndex int
	Timestamp     time.Time
	StoreID       string
	StoreName     string
	Address       string
	BranchName    string
	Location      Coordinates
}

// Day returns the stop's calendar day, deriving it from the timestamp when
// ingestion did not supply one.
func (s Stop) Day() string {
	if s.Date != "" {
		return s.Date
	}
	return s.Timestamp.Format(DateLayout)
}

// DriverDay identifies the unit of work processed by one pipeline worker.
type DriverDay struct {
	DriverID string
	Date     string
}

func (d DriverDay) String() string { return fmt.Sprintf("%s@%s", d.DriverID, d.Date) }
