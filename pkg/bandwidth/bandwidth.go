// Package bandwidth implements the monotonic byte counters the downloader
// exposes for progress reporting: bytes already downloaded and bytes still
// expected. Both are plain atomic.Int64 values rather than mutex-guarded
// scalars, since every mutation is a simple add.
package bandwidth

import "sync/atomic"

// Counters tracks cumulative bytes downloaded and the approximate bytes
// still remaining across all in-flight and queued fetches.
type Counters struct {
	downloaded atomic.Int64
	remaining  atomic.Int64
}

// AddRemaining adds n to the remaining-bytes counter. Called once a fetch
// learns its Content-Length, and again (with a negative n) as that fetch's
// body is read, so the counter tracks what's left rather than what was ever
// queued.
func (c *Counters) AddRemaining(n int64) {
	c.remaining.Add(n)
}

// AddDownloaded adds n to the downloaded-bytes counter.
func (c *Counters) AddDownloaded(n int64) {
	c.downloaded.Add(n)
}

// Downloaded returns the cumulative number of bytes downloaded so far.
func (c *Counters) Downloaded() int64 {
	return c.downloaded.Load()
}

// Remaining returns the approximate number of bytes left to download across
// all fetches that have reported a Content-Length.
func (c *Counters) Remaining() int64 {
	return c.remaining.Load()
}
