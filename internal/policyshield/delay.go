package policyshield

import "time"

// DelayWindow is the idle-rolling free-passage window granted after a
// delayed domain's wait has been served.
const DelayWindow = 15 * time.Minute

// maxDelaySeconds caps the progressive-friction wait.
const maxDelaySeconds = 160

// RequiredDelaySeconds computes the required wait, in seconds, for the
// n-th access today to a delayed domain: min(10*2^n, 160) (spec §4.1).
func RequiredDelaySeconds(priorAccessCountToday int) int {
	n := priorAccessCountToday
	if n < 0 {
		n = 0
	}
	wait := 10
	for i := 0; i < n; i++ {
		wait *= 2
		if wait >= maxDelaySeconds {
			return maxDelaySeconds
		}
	}
	if wait > maxDelaySeconds {
		return maxDelaySeconds
	}
	return wait
}

// LocalDateString returns t's local calendar date as YYYY-MM-DD, used to
// detect the local-midnight reset boundary for delay session counters.
func LocalDateString(t time.Time) string {
	return t.Local().Format("2006-01-02")
}
