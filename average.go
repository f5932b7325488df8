// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

// roundedMean returns sum/n rounded half to even.
func roundedMean(sum, n int64) int64 {
	q := sum / n
	r := sum % n
	if r < 0 {
		q--
		r += n
	}
	switch {
	case 2*r > n:
		q++
	case 2*r == n && q%2 != 0:
		q++
	}
	return q
}

// accumulator averages raw samples.
type accumulator struct {
	n   int
	k   int
	sum int64
}

// add adds a sample and returns the mean once n samples have been added.
func (a *accumulator) add(v int32) (int, bool) {
	a.sum += int64(v)
	a.k++
	if a.k < a.n {
		return 0, false
	}
	m := roundedMean(a.sum, int64(a.n))
	a.k = 0
	a.sum = 0
	return int(m), true
}
