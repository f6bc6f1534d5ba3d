package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemStatus is the body of GET /api/v1/status.
type SystemStatus struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Pipeline      *PipelineCounters `json:"pipeline,omitempty"`
	Archive       *ArchiveMetrics `json:"archive,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// PipelineCounters is the JSON form of ingest.Stats.
type PipelineCounters struct {
	State          string `json:"state"`
	Received       uint64 `json:"received"`
	Acked          uint64 `json:"acked"`
	Requeued       uint64 `json:"requeued"`
	DecodeFailures uint64 `json:"decode_failures"`
	SinkFailures   uint64 `json:"sink_failures"`
	AckFailures    uint64 `json:"ack_failures"`
	Held           uint64 `json:"held"`
}

// ArchiveMetrics contains packet archive statistics.
type ArchiveMetrics struct {
	Packets int64  `json:"packets"`
	Error   string `json:"error,omitempty"`
}

// handleStatus returns a JSON snapshot of runtime and pipeline counters,
// for operators without a Prometheus scraper.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.pipeline != nil {
		st := s.pipeline.Stats()
		status.Pipeline = &PipelineCounters{
			State:          s.pipeline.State().String(),
			Received:       st.Received,
			Acked:          st.Acked,
			Requeued:       st.Requeued,
			DecodeFailures: st.DecodeFailures,
			SinkFailures:   st.SinkFailures,
			AckFailures:    st.AckFailures,
			Held:           st.Held,
		}
	}

	if s.archive != nil {
		status.Archive = &ArchiveMetrics{}
		n, err := s.archive.Count(r.Context())
		if err != nil {
			status.Archive.Error = err.Error()
		}
		status.Archive.Packets = n
	}

	writeJSON(w, http.StatusOK, status)
}
