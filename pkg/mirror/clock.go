package mirror

import "time"

// Clock abstracts time so that polling can be driven by tests without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func RealClock() Clock {
	return realClock{}
}
