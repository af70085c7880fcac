// README: Location records kept in Redis with a fixed time-to-live.
package location

import (
	"time"

	"haul/internal/types"
)

// Record is what gets written on every update.
type Record struct {
	Point      types.Point `json:"point"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// Fix is a record read back, with its age at read time.
type Fix struct {
	Point types.Point
	Age   time.Duration
}

const (
	driverKeyPrefix  = "location:driver:"
	bookingKeyPrefix = "location:booking:"
	trailKeyPrefix   = "trail:booking:"

	// maxTrailPoints caps the per-booking trail; older points are trimmed.
	maxTrailPoints = 2000
)

func DriverKey(id types.ID) string  { return driverKeyPrefix + string(id) }
func BookingKey(id types.ID) string { return bookingKeyPrefix + string(id) }
func trailKey(id types.ID) string   { return trailKeyPrefix + string(id) }
