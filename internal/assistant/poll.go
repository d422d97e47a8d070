package assistant

import (
	"context"
	"time"

	apperrors "github.com/Daily-Wins/dw-chromegpt/internal/common/errors"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
)

// RunPoller fetches the current state of a run.
type RunPoller interface {
	GetRun(ctx context.Context, sessionID, runID string) (models.RunExecution, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PollResult describes how WaitForRun ended.
type PollResult struct {
	Run   models.RunExecution
	Polls int
	State State
}

// WaitForRun polls run until it reaches a terminal status or maxAttempts polls have been
// made, sleeping interval between polls. It returns RUN_FAILED or RUN_CANCELLED carrying the
// remote message, TIMED_OUT when the bound is exhausted, or the poller's error.
func WaitForRun(ctx context.Context, poller RunPoller, run models.RunExecution, interval time.Duration, maxAttempts int, sleep SleepFunc) (PollResult, error) {
	if sleep == nil {
		sleep = ContextSleep
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	result := PollResult{Run: run, State: stateFor(run.Status)}
	for result.Polls < maxAttempts {
		current, err := poller.GetRun(ctx, run.SessionID, run.RunID)
		result.Polls++
		if err != nil {
			return result, err
		}
		result.Run = current
		result.State = stateFor(current.Status)

		switch result.State {
		case StateRunCompleted:
			return result, nil
		case StateRunFailed:
			return result, apperrors.NewRunFailedError(current.RunID, runFailureMessage(current))
		case StateRunCancelled:
			return result, apperrors.NewRunCancelledError(current.RunID, current.LastErrorMessage)
		}

		if result.Polls >= maxAttempts {
			break
		}
		if err := sleep(ctx, interval); err != nil {
			return result, contextError("poll run", err)
		}
	}

	result.State = StateTimedOut
	return result, apperrors.NewTimedOutError(run.RunID, result.Polls)
}

// stateFor maps a remote status onto the session state machine. Statuses that need no
// action from us keep the run in progress.
func stateFor(status models.RunStatus) State {
	switch status {
	case models.RunStatusQueued:
		return StateRunQueued
	case models.RunStatusCompleted:
		return StateRunCompleted
	case models.RunStatusFailed, models.RunStatusExpired, models.RunStatusIncomplete:
		return StateRunFailed
	case models.RunStatusCancelled:
		return StateRunCancelled
	default:
		return StateRunInProgress
	}
}

func runFailureMessage(run models.RunExecution) string {
	if run.LastErrorMessage != "" {
		return run.LastErrorMessage
	}
	switch run.Status {
	case models.RunStatusExpired:
		return "run expired"
	case models.RunStatusIncomplete:
		return "run incomplete"
	}
	return ""
}
