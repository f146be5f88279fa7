package limiter

import "time"

// Clock provides the current time for buckets, the registry and the sweeper.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}
