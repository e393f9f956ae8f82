package types

import "time"

// Timestamp is a point in time as whole seconds since the Unix epoch
// plus nanoseconds, so that it encodes the same way everywhere.
type Timestamp struct {
	Seconds int64 `cramberry:"1"`
	Nanos   int32 `cramberry:"2"`
}

func TimeToTimestamp(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// ToTime returns the timestamp in UTC.
func (ts Timestamp) ToTime() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// IsZero reports whether ts is the zero Timestamp, which genesis
// documents use for "unset".
func (ts Timestamp) IsZero() bool { return ts == Timestamp{} }
