// Package progress delivers per-field progress events of a batch to interested parties:
// the log, other processes over Redis pub/sub and browser UIs over WebSocket.
package progress

import (
	"context"

	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
)

// Reporter receives one event after every completed field. Implementations must be safe for
// concurrent use and must not block the batch for long; delivery is best effort.
type Reporter interface {
	Report(ctx context.Context, event models.ProgressEvent)
}

// Func adapts a plain function to Reporter.
type Func func(ctx context.Context, event models.ProgressEvent)

func (f Func) Report(ctx context.Context, event models.ProgressEvent) { f(ctx, event) }

type nopReporter struct{}

func (nopReporter) Report(context.Context, models.ProgressEvent) {}

// Nop drops every event.
var Nop Reporter = nopReporter{}

// Multi fans one event out to every reporter in order.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, event models.ProgressEvent) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, event)
		}
	}
}

// NewMulti drops nil reporters and collapses the trivial cases.
func NewMulti(reporters ...Reporter) Reporter {
	var out Multi
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return Nop
	case 1:
		return out[0]
	}
	return out
}

type logReporter struct {
	logger logger.Logger
}

// NewLogReporter logs every event at info level.
func NewLogReporter(log logger.Logger) Reporter {
	return &logReporter{logger: log.WithFields(map[string]interface{}{"component": "progress"})}
}

func (l *logReporter) Report(_ context.Context, e models.ProgressEvent) {
	l.logger.Info("field completed", map[string]interface{}{
		"batchId":    e.BatchID,
		"field":      e.FieldName,
		"outcome":    string(e.Outcome),
		"completed":  e.Completed,
		"total":      e.Total,
		"percentage": e.Percentage,
	})
}
