package datacache

import (
	"sync/atomic"
)

// Stats holds cache activity counters
type Stats struct {
	loads        int64
	rejections   int64
	takeovers    int64
	releases     int64
	autosaves    int64
	saveFailures int64
	conflicts    int64
	wipes        int64
	kicks        int64
	deferrals    int64
	storeReads   int64
	storeWrites  int64
	admitted     int64
}

// Loads returns the number of successful admissions
func (s *Stats) Loads() int64 {
	return atomic.LoadInt64(&s.loads)
}

// Rejections returns the number of admissions refused because of a live
// foreign session
func (s *Stats) Rejections() int64 {
	return atomic.LoadInt64(&s.rejections)
}

// Takeovers returns the number of stale locks claimed
func (s *Stats) Takeovers() int64 {
	return atomic.LoadInt64(&s.takeovers)
}

// Releases returns the number of successful release writes
func (s *Stats) Releases() int64 {
	return atomic.LoadInt64(&s.releases)
}

// Autosaves returns the number of successful autosave writes
func (s *Stats) Autosaves() int64 {
	return atomic.LoadInt64(&s.autosaves)
}

// SaveFailures returns the number of saves that failed after retries
func (s *Stats) SaveFailures() int64 {
	return atomic.LoadInt64(&s.saveFailures)
}

// Conflicts returns the number of writes rejected by version or owner checks
func (s *Stats) Conflicts() int64 {
	return atomic.LoadInt64(&s.conflicts)
}

// Wipes returns the number of wipes
func (s *Stats) Wipes() int64 {
	return atomic.LoadInt64(&s.wipes)
}

// Kicks returns the number of entities evicted by session arbitration
func (s *Stats) Kicks() int64 {
	return atomic.LoadInt64(&s.kicks)
}

// Deferrals returns the number of postponed evictions
func (s *Stats) Deferrals() int64 {
	return atomic.LoadInt64(&s.deferrals)
}

// StoreReads returns the number of backing store reads
func (s *Stats) StoreReads() int64 {
	return atomic.LoadInt64(&s.storeReads)
}

// StoreWrites returns the number of backing store writes
func (s *Stats) StoreWrites() int64 {
	return atomic.LoadInt64(&s.storeWrites)
}

// Admitted returns the number of entities currently admitted
func (s *Stats) Admitted() int64 {
	return atomic.LoadInt64(&s.admitted)
}

// Reset resets all counters except Admitted
func (s *Stats) Reset() {
	for _, p := range []*int64{
		&s.loads, &s.rejections, &s.takeovers, &s.releases, &s.autosaves,
		&s.saveFailures, &s.conflicts, &s.wipes, &s.kicks, &s.deferrals,
		&s.storeReads, &s.storeWrites,
	} {
		atomic.StoreInt64(p, 0)
	}
}

func (s *Stats) inc(p *int64) {
	atomic.AddInt64(p, 1)
}

func (s *Stats) setAdmitted(n int) {
	atomic.StoreInt64(&s.admitted, int64(n))
}
