// Package progress implements the download progress hook (spec.md §4.7,
// C7). The orchestrator composes a Hook with the staging writer; callers
// remain writer-agnostic.
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/cybozu-go/log"
)

// Kind selects which Hook implementation New constructs.
type Kind int

const (
	// Full gives an interactive terminal spinner whose suffix reports
	// the bytes written, plus the total and percentage when the content
	// length is advertised; no graphical bar is drawn. Grounded on
	// trywpm-cli/pkg/progress's spinner.Spinner usage.
	Full Kind = iota
	// Light gives minimal periodic textual updates, suitable for
	// non-interactive capture (piped stdout/stderr).
	Light
	// None is the no-op implementation, the correct choice for tests.
	None
)

// Hook is invoked during streaming writes (C7).
type Hook interface {
	// Tick is called after each successful chunk write with the number
	// of bytes written in that chunk.
	Tick(n int64)
	// Finish is called once when the stream ends.
	Finish()
}

// New constructs a Hook for the given resource and advertised content
// length (nil when the server did not advertise one).
func New(kind Kind, resource string, contentLength *int64) Hook {
	switch kind {
	case Full:
		return newFullHook(contentLength)
	case Light:
		return newLightHook(resource, contentLength)
	default:
		return nullHook{}
	}
}

type nullHook struct{}

func (nullHook) Tick(int64) {}
func (nullHook) Finish()    {}

// fullHook drives a terminal spinner/bar via github.com/briandowns/spinner.
// Unlike a byte-count progress bar, spinner.Spinner only indicates
// liveness, so we fold the byte total into its Suffix/Prefix text the
// way trywpm-cli/pkg/progress labels its spinner.
type fullHook struct {
	sp        *spinner.Spinner
	total     int64
	haveTotal bool
	written   int64
}

func newFullHook(contentLength *int64) *fullHook {
	sp := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(nil))
	h := &fullHook{sp: sp}
	if contentLength != nil {
		h.total = *contentLength
		h.haveTotal = true
	}
	sp.Start()
	return h
}

func (h *fullHook) Tick(n int64) {
	h.written += n
	if h.haveTotal && h.total > 0 {
		pct := float64(h.written) / float64(h.total) * 100
		h.sp.Suffix = fmt.Sprintf(" %d/%d bytes (%.0f%%)", h.written, h.total, pct)
	} else {
		h.sp.Suffix = fmt.Sprintf(" %d bytes", h.written)
	}
}

func (h *fullHook) Finish() {
	h.sp.Stop()
}

// lightHook emits a structured log line at most once per interval,
// mirroring the periodic "download progress" messages mirror.go logs
// during long-running transfers (mirror/mirror.go's progressInterval).
type lightHook struct {
	resource  string
	total     int64
	haveTotal bool
	written   int64
	lastLog   time.Time
	interval  time.Duration
}

func newLightHook(resource string, contentLength *int64) *lightHook {
	h := &lightHook{resource: resource, interval: 2 * time.Second, lastLog: time.Now()}
	if contentLength != nil {
		h.total = *contentLength
		h.haveTotal = true
	}
	return h
}

func (h *lightHook) Tick(n int64) {
	h.written += n
	now := time.Now()
	if now.Sub(h.lastLog) < h.interval {
		return
	}
	h.lastLog = now
	fields := map[string]interface{}{
		"resource": h.resource,
		"bytes":    h.written,
	}
	if h.haveTotal {
		fields["total"] = h.total
	}
	log.Info("download progress", fields)
}

func (h *lightHook) Finish() {
	log.Info("download finished", map[string]interface{}{
		"resource": h.resource,
		"bytes":    h.written,
	})
}

// Writer wraps an io.Writer, invoking hook.Tick after each successful
// chunk write, the way original_source/src/progress_bar.rs's
// DownloadWrapper composes a Write impl with a progress bar.
type Writer struct {
	w    io.Writer
	hook Hook
}

// NewWriter returns a Writer that reports to hook as bytes are written
// to w.
func NewWriter(w io.Writer, hook Hook) *Writer {
	return &Writer{w: w, hook: hook}
}

func (pw *Writer) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 {
		pw.hook.Tick(int64(n))
	}
	return n, err
}
