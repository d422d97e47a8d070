package assistant

import (
	"context"
	"time"

	"github.com/Daily-Wins/dw-chromegpt/internal/common/metrics"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
)

// State is a step of one question/answer exchange with the assistant.
type State int

const (
	StateCreatingSession State = iota
	StatePostingMessage
	StateRunQueued
	StateRunInProgress
	StateRunCompleted
	StateRunFailed
	StateRunCancelled
	StateTimedOut
)

var stateNames = map[State]string{
	StateCreatingSession: "CREATING_SESSION",
	StatePostingMessage:  "POSTING_MESSAGE",
	StateRunQueued:       "RUN_QUEUED",
	StateRunInProgress:   "RUN_IN_PROGRESS",
	StateRunCompleted:    "RUN_COMPLETED",
	StateRunFailed:       "RUN_FAILED",
	StateRunCancelled:    "RUN_CANCELLED",
	StateTimedOut:        "TIMED_OUT",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition can follow.
func (s State) Terminal() bool {
	return s >= StateRunCompleted
}

// Reply is the outcome of Ask.
type Reply struct {
	Session models.ConversationSession
	Run     models.RunExecution
	Text    string
	Polls   int
	State   State
}

// Ask runs one full exchange on a fresh session: open the session, post prompt, start a
// run, poll it at most maxPolls times and return the newest assistant reply verbatim.
// Sessions are never reused.
func (c *Client) Ask(ctx context.Context, prompt string, maxPolls int) (Reply, error) {
	var reply Reply
	started := time.Now()
	log := c.logger

	c.transition(&reply, StateCreatingSession)
	session, err := c.OpenSession(ctx)
	if err != nil {
		return reply, err
	}
	reply.Session = session
	log = log.WithFields(map[string]interface{}{"sessionId": session.SessionID})

	c.transition(&reply, StatePostingMessage)
	if err := c.PostMessage(ctx, session, prompt); err != nil {
		return reply, err
	}

	run, err := c.StartRun(ctx, session)
	if err != nil {
		return reply, err
	}
	reply.Run = run
	c.transition(&reply, stateFor(run.Status))

	result, err := WaitForRun(ctx, c.observingPoller(&reply), run, c.cfg.PollInterval, maxPolls, c.sleep)
	reply.Run = result.Run
	reply.Polls = result.Polls
	c.transition(&reply, result.State)
	metrics.AssistantRunPolls.WithLabelValues(result.State.String()).Observe(float64(result.Polls))
	if err != nil {
		log.Warn("run did not complete", map[string]interface{}{
			"runId":  run.RunID,
			"state":  result.State.String(),
			"polls":  result.Polls,
			"status": string(result.Run.Status),
			"error":  err.Error(),
		})
		return reply, err
	}

	text, err := c.LatestReply(ctx, session)
	if err != nil {
		return reply, err
	}
	reply.Text = text

	log.Debug("assistant replied", map[string]interface{}{
		"runId":     run.RunID,
		"polls":     result.Polls,
		"elapsedMs": time.Since(started).Milliseconds(),
		"reply":     text,
	})
	return reply, nil
}

func (c *Client) transition(reply *Reply, next State) {
	if reply.State == next && next != StateCreatingSession {
		return
	}
	reply.State = next
	if c.onState != nil {
		c.onState(next)
	}
}

// observingPoller reports intermediate run states (queued to in progress) while polling.
func (c *Client) observingPoller(reply *Reply) RunPoller {
	return pollerFunc(func(ctx context.Context, sessionID, runID string) (models.RunExecution, error) {
		run, err := c.GetRun(ctx, sessionID, runID)
		if err == nil {
			if s := stateFor(run.Status); !s.Terminal() {
				c.transition(reply, s)
			}
		}
		return run, err
	})
}

type pollerFunc func(ctx context.Context, sessionID, runID string) (models.RunExecution, error)

func (f pollerFunc) GetRun(ctx context.Context, sessionID, runID string) (models.RunExecution, error) {
	return f(ctx, sessionID, runID)
}
