package eqws

import "time"

type (
	timer interface {
		Stop() bool
	}

	scheduler interface {
		AfterFunc(d time.Duration, f func()) timer
	}

	clockScheduler struct{}
)

func (clockScheduler) AfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}
