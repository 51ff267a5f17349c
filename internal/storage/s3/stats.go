package s3

import (
	"sync"
	"time"
)

// RequestStats is a snapshot of the requests a backend has made against
// its bucket since it was opened.
type RequestStats struct {
	Bucket         string        `json:"bucket"`
	Requests       int64         `json:"requests"`
	Errors         int64         `json:"errors"`
	ListPages      int64         `json:"list_pages"`
	ObjectsRead    int64         `json:"objects_read"`
	ObjectsWritten int64         `json:"objects_written"`
	BytesRead      int64         `json:"bytes_read"`
	BytesWritten   int64         `json:"bytes_written"`
	AverageLatency time.Duration `json:"average_latency"`
	LastError      string        `json:"last_error,omitempty"`
	LastErrorAt    time.Time     `json:"last_error_at,omitempty"`
}

type requestStats struct {
	mu    sync.Mutex
	stats RequestStats
}

// observe counts one finished request. Latency is an exponential moving
// average weighted 1/10 towards the newest request.
func (s *requestStats) observe(latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Requests++
	if s.stats.Requests == 1 {
		s.stats.AverageLatency = latency
	} else {
		s.stats.AverageLatency = (s.stats.AverageLatency*9 + latency) / 10
	}
	if err != nil {
		s.stats.Errors++
		s.stats.LastError = err.Error()
		s.stats.LastErrorAt = time.Now()
	}
}

func (s *requestStats) listedPage() {
	s.mu.Lock()
	s.stats.ListPages++
	s.mu.Unlock()
}

func (s *requestStats) read(n int) {
	s.mu.Lock()
	s.stats.ObjectsRead++
	s.stats.BytesRead += int64(n)
	s.mu.Unlock()
}

func (s *requestStats) wrote(n int) {
	s.mu.Lock()
	s.stats.ObjectsWritten++
	s.stats.BytesWritten += int64(n)
	s.mu.Unlock()
}

func (s *requestStats) snapshot() RequestStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
