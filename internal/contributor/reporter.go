package contributor

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Reporter receives the human facing progress of a contribution.
type Reporter interface {
	// Queued is called after every poll that finds the contributor queued.
	Queued(position, size uint64, estimatedWait time.Duration)
	// Stage is called when the active cycle enters a new step.
	Stage(stage string)
	// Contributed is called once a contribution has been accepted.
	Contributed(round uint64, elapsed time.Duration)
	// Anomaly is called when the coordinator reports an unexpected status.
	Anomaly()
	// Finished is called when the coordinator has no more work.
	Finished()
}

// WriterReporter prints progress lines to a writer.
type WriterReporter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterReporter(w io.Writer) *WriterReporter {
	return &WriterReporter{w: w}
}

func (r *WriterReporter) printf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}

func (r *WriterReporter) Queued(position, size uint64, estimatedWait time.Duration) {
	r.printf("Queue position: %d\nQueue size: %d\nEstimated waiting time: %s\n",
		position, size, FormatWait(estimatedWait))
}

func (r *WriterReporter) Stage(stage string) {
	r.printf("%s\n", stage)
}

func (r *WriterReporter) Contributed(round uint64, elapsed time.Duration) {
	r.printf("Completed contribution to round %d in %s\n", round, elapsed.Round(time.Second))
}

func (r *WriterReporter) Anomaly() {
	r.printf("Something went wrong!\n")
}

func (r *WriterReporter) Finished() {
	r.printf("Contribution done!\n")
}

// EstimateWait returns the expected wait of the given queue position.
func EstimateWait(position uint64, slot time.Duration) time.Duration {
	return time.Duration(position) * slot
}

// FormatWait renders a wait estimate in whole minutes.
func FormatWait(d time.Duration) string {
	minutes := int64(d / time.Minute)
	if minutes == 1 {
		return "1 min"
	}
	return fmt.Sprintf("%d min", minutes)
}
