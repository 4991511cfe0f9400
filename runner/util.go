package runner

import "sync/atomic"

// RunCheck is a flag that can only be raised by one caller at a time.
type RunCheck struct {
	*atomic.Bool
}

func MakeRunCheck() RunCheck {
	return RunCheck{
		&atomic.Bool{},
	}
}

// CheckOrMark atomically checks if its already raised, else raises it. Returns false if it was already raised.
func (rc RunCheck) CheckOrMark() bool {
	return rc.CompareAndSwap(false, true)
}

func (rc RunCheck) Unmark() {
	rc.Store(false)
}
