package zipwriter

import "time"

// Clock is the time-source collaborator the writer consumes to stamp
// entries whose FileHeader.Modified was left zero. Tests inject a fixed
// Clock for deterministic DOS timestamps; production code gets realClock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
