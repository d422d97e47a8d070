// Package camundatest provides an in-memory worker.JobClient for job handler tests.
package camundatest

import (
	"context"
	"sync"

	"github.com/camunda/zeebe/clients/go/v8/pkg/commands"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"google.golang.org/grpc"
)

const (
	MethodComplete   = "CompleteJob"
	MethodFail       = "FailJob"
	MethodThrowError = "ThrowError"
)

// Call is one command the handler sent. CtxErr is the context's error at send time.
type Call struct {
	Method    string
	JobKey    int64
	Variables string
	ErrorCode string
	Retries   int32
	CtxErr    error
}

// JobClient records complete, fail and throw-error commands instead of sending them.
type JobClient struct {
	gateway *gateway
}

func NewJobClient() *JobClient {
	return &JobClient{gateway: &gateway{errs: map[string]error{}}}
}

// FailWith makes every later call to method return err.
func (c *JobClient) FailWith(method string, err error) {
	c.gateway.mu.Lock()
	defer c.gateway.mu.Unlock()
	c.gateway.errs[method] = err
}

func (c *JobClient) Calls() []Call {
	c.gateway.mu.Lock()
	defer c.gateway.mu.Unlock()
	return append([]Call(nil), c.gateway.calls...)
}

// CallsTo returns the recorded calls of one method.
func (c *JobClient) CallsTo(method string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (c *JobClient) NewCompleteJobCommand() commands.CompleteJobCommandStep1 {
	return commands.NewCompleteJobCommand(c.gateway, noRetry)
}

func (c *JobClient) NewFailJobCommand() commands.FailJobCommandStep1 {
	return commands.NewFailJobCommand(c.gateway, noRetry)
}

func (c *JobClient) NewThrowErrorCommand() commands.ThrowErrorCommandStep1 {
	return commands.NewThrowErrorCommand(c.gateway, noRetry)
}

func noRetry(context.Context, error) bool { return false }

// gateway implements the three job RPCs; any other method panics on the nil embedded client.
type gateway struct {
	pb.GatewayClient

	mu    sync.Mutex
	calls []Call
	errs  map[string]error
}

func (g *gateway) record(ctx context.Context, call Call) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	call.CtxErr = ctx.Err()
	g.calls = append(g.calls, call)
	return g.errs[call.Method]
}

func (g *gateway) CompleteJob(ctx context.Context, in *pb.CompleteJobRequest, _ ...grpc.CallOption) (*pb.CompleteJobResponse, error) {
	if err := g.record(ctx, Call{Method: MethodComplete, JobKey: in.JobKey, Variables: in.Variables}); err != nil {
		return nil, err
	}
	return &pb.CompleteJobResponse{}, nil
}

func (g *gateway) FailJob(ctx context.Context, in *pb.FailJobRequest, _ ...grpc.CallOption) (*pb.FailJobResponse, error) {
	if err := g.record(ctx, Call{Method: MethodFail, JobKey: in.JobKey, Variables: in.Variables, Retries: in.Retries}); err != nil {
		return nil, err
	}
	return &pb.FailJobResponse{}, nil
}

func (g *gateway) ThrowError(ctx context.Context, in *pb.ThrowErrorRequest, _ ...grpc.CallOption) (*pb.ThrowErrorResponse, error) {
	if err := g.record(ctx, Call{Method: MethodThrowError, JobKey: in.JobKey, Variables: in.Variables, ErrorCode: in.ErrorCode}); err != nil {
		return nil, err
	}
	return &pb.ThrowErrorResponse{}, nil
}
