package cli

import (
	"io"
	"time"

	"github.com/briandowns/spinner"

	"github.com/drand/ceremony/internal/contributor"
)

// spinnerReporter prints progress like contributor.WriterReporter and keeps
// a spinner turning while a stage runs.
type spinnerReporter struct {
	*contributor.WriterReporter
	s *spinner.Spinner
}

func newSpinnerReporter(w io.Writer) *spinnerReporter {
	return &spinnerReporter{
		WriterReporter: contributor.NewWriterReporter(w),
		s:              spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w)),
	}
}

func (r *spinnerReporter) spin(suffix string) {
	r.s.Lock()
	r.s.Suffix = " " + suffix
	r.s.Unlock()
	if !r.s.Active() {
		r.s.Start()
	}
}

func (r *spinnerReporter) Queued(position, size uint64, estimatedWait time.Duration) {
	r.s.Stop()
	r.WriterReporter.Queued(position, size, estimatedWait)
	r.spin("Waiting for your turn")
}

func (r *spinnerReporter) Stage(stage string) {
	r.s.Stop()
	r.WriterReporter.Stage(stage)
	r.spin(stage)
}

func (r *spinnerReporter) Contributed(round uint64, elapsed time.Duration) {
	r.s.Stop()
	r.WriterReporter.Contributed(round, elapsed)
}

func (r *spinnerReporter) Anomaly() {
	r.s.Stop()
	r.WriterReporter.Anomaly()
}

func (r *spinnerReporter) Finished() {
	r.s.Stop()
	r.WriterReporter.Finished()
}
