package fixture

// fault is a disk fault schedule: after countdown successful submissions,
// the next n fail. A negative countdown means no fault is scheduled and a
// negative n fails forever.
type fault struct {
	countdown int
	n         int
}

func noFault() fault {
	return fault{countdown: -1}
}

// tick consumes one submission and reports whether it must fail.
func (f *fault) tick() bool {
	if f.countdown < 0 {
		return false
	}
	if f.countdown > 0 {
		f.countdown--
		return false
	}
	if f.n == 0 {
		f.countdown = -1
		return false
	}
	if f.n > 0 {
		f.n--
		if f.n == 0 {
			f.countdown = -1
		}
	}
	return true
}
