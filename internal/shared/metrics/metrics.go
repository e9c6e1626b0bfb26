package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	sessionsCreatedTotal atomic.Uint64
	jobsCreatedTotal     atomic.Uint64
	jobsCompletedTotal   atomic.Uint64
	jobsFailedTotal      atomic.Uint64
	streamsOpenedTotal   atomic.Uint64

	streamDuration = newHistogram([]float64{250, 1000, 5000, 15000, 60000, 300000})
)

// IncSessionCreated increments the agent-session counter.
func IncSessionCreated() {
	sessionsCreatedTotal.Add(1)
}

// IncJobCreated increments the job counter.
func IncJobCreated() {
	jobsCreatedTotal.Add(1)
}

// IncJobCompleted increments the completed-job counter.
func IncJobCompleted() {
	jobsCompletedTotal.Add(1)
}

// IncJobFailed increments the failed-job counter.
func IncJobFailed() {
	jobsFailedTotal.Add(1)
}

// IncStreamOpened increments the stream counter.
func IncStreamOpened() {
	streamsOpenedTotal.Add(1)
}

// ObserveStreamDurationMs records how long one event stream stayed open.
func ObserveStreamDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	streamDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "sessions_created_total", "Total agent sessions created", sessionsCreatedTotal.Load())
	writeCounter(&buf, "jobs_created_total", "Total tracked jobs created", jobsCreatedTotal.Load())
	writeCounter(&buf, "jobs_completed_total", "Total jobs completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "jobs_failed_total", "Total jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "streams_opened_total", "Total event streams opened", streamsOpenedTotal.Load())
	writeHistogram(&buf, "stream_duration_ms", "Event stream lifetime in milliseconds", streamDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
