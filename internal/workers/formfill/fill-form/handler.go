package fillform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"github.com/Daily-Wins/dw-chromegpt/internal/batch"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/camunda"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/config"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/errors"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/metrics"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/validation"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
	"github.com/Daily-Wins/dw-chromegpt/pkg/registry"
)

const TaskType = registry.TaskFillForm

type Service interface {
	FillForm(ctx context.Context, req batch.Request) (models.BatchResult, error)
}

type Handler struct {
	config  *Config
	logger  logger.Logger
	camunda *camunda.Client
	service Service
	errors  *errors.ErrorHandler
	retry   *camunda.RetryConfig
	worker  *camunda.CamundaWorker
}

type HandlerOptions struct {
	AppConfig    *config.Config
	Camunda      *camunda.Client
	Service      Service
	CustomConfig *Config
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Service == nil {
		return nil, fmt.Errorf("%s needs a form-fill service", TaskType)
	}

	loggerInstance := opts.Logger
	if loggerInstance == nil {
		loggerInstance = logger.NewStructured("info", "json")
	}
	loggerInstance = loggerInstance.WithFields(map[string]interface{}{"worker": TaskType})

	return &Handler{
		config:  workerConfig,
		logger:  loggerInstance,
		camunda: opts.Camunda,
		service: opts.Service,
		errors:  errors.NewErrorHandler(loggerInstance),
		retry:   camunda.DefaultRetryConfig,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	h.logger.Info("processing fill-form job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err != nil {
		h.failJob(client, job, err)
		return
	}

	// The work gets the job timeout; completing or failing the job gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	output, err := h.Execute(ctx, input)
	cancel()
	if err != nil {
		h.failJob(client, job, err)
		return
	}

	if h.completeJob(client, job, output) {
		metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	}
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInputValidationError(fmt.Sprintf("job variables are not a JSON object: %v", err))
	}

	result := validation.Validate(validation.SchemaFillRequest, variables)
	if !result.Valid {
		return nil, errors.NewInputValidationError(result.Error())
	}

	var input Input
	if err := json.Unmarshal([]byte(job.GetVariables()), &input); err != nil {
		return nil, errors.NewInputValidationError(err.Error())
	}
	if input.BatchID == "" {
		input.BatchID = fmt.Sprintf("job-%d", job.GetKey())
	}
	return &input, nil
}

// Execute runs the batch. Per-field failures are part of the result; only batch-fatal
// errors fail the job.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	result, err := h.service.FillForm(ctx, input.Request)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) bool {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.CommandTimeout)
	defer cancel()

	err := h.retry.Do(ctx, "complete job", func(ctx context.Context) error {
		cmd, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
		if err != nil {
			return err
		}
		_, err = cmd.Send(ctx)
		return err
	})
	if err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return false
	}

	h.logger.Info("fill-form job completed", map[string]interface{}{
		"jobKey":  job.GetKey(),
		"batchId": output.BatchID,
		"filled":  output.FilledCount,
		"failed":  output.FailedCount,
		"total":   output.TotalCount,
	})
	return true
}

func (h *Handler) failJob(client worker.JobClient, job entities.Job, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.CommandTimeout)
	defer cancel()

	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Code(err))).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}

// Register opens the job worker. It is a no-op when the worker is disabled.
func (h *Handler) Register() error {
	if !h.config.Enabled {
		h.logger.Info("worker is disabled, skipping registration", nil)
		return nil
	}
	if h.camunda == nil {
		return fmt.Errorf("%s: no Zeebe client", TaskType)
	}

	h.worker = camunda.NewWorker(h.camunda.GetClient(), camunda.WorkerOptions{
		TaskType:      TaskType,
		MaxJobsActive: h.config.MaxJobsActive,
		Timeout:       h.config.Timeout,
	}, h, h.logger)
	return nil
}

func (h *Handler) Close() {
	if h.worker != nil {
		h.worker.Stop()
		h.worker = nil
	}
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) IsEnabled() bool {
	return h.config.Enabled
}

func (h *Handler) GetConfig() *Config {
	return h.config
}
