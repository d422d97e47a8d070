package camunda

import (
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
)

// JobHandler completes, fails or throws on every job it receives.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

type WorkerOptions struct {
	TaskType      string
	MaxJobsActive int
	Timeout       time.Duration
}

// CamundaWorker is one open job worker. The Zeebe client is shared and closed by its owner.
type CamundaWorker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

func NewWorker(client zbc.Client, opts WorkerOptions, handler JobHandler, log logger.Logger) *CamundaWorker {
	step := client.NewJobWorker().
		JobType(opts.TaskType).
		Handler(handler.Handle).
		Name(fmt.Sprintf("%s-worker", opts.TaskType))
	if opts.MaxJobsActive > 0 {
		step = step.MaxJobsActive(opts.MaxJobsActive)
	}
	if opts.Timeout > 0 {
		step = step.Timeout(opts.Timeout)
	}

	w := &CamundaWorker{
		worker:   step.Open(),
		logger:   log.WithFields(map[string]interface{}{"taskType": opts.TaskType}),
		taskType: opts.TaskType,
	}
	w.logger.Info("worker registered with Zeebe", map[string]interface{}{
		"maxJobsActive": opts.MaxJobsActive,
		"timeout":       opts.Timeout.String(),
	})
	return w
}

func (w *CamundaWorker) TaskType() string {
	return w.taskType
}

// Stop closes the job worker and waits for in-flight handlers.
func (w *CamundaWorker) Stop() {
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}
