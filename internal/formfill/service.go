// Package formfill wires credentials, sessions, the resolver, the orchestrator and the
// applier into the three operations exposed over HTTP and Zeebe.
package formfill

import (
	"context"

	"github.com/Daily-Wins/dw-chromegpt/internal/apply"
	"github.com/Daily-Wins/dw-chromegpt/internal/batch"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/credentials"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
	"github.com/Daily-Wins/dw-chromegpt/internal/resolver"
)

// FieldResolution is a single-field result plus the value coerced for its control.
type FieldResolution struct {
	Resolution models.ResolutionResult `json:"resolution"`
	Value      interface{}             `json:"value"`
}

type Service struct {
	resolver     *resolver.Resolver
	orchestrator *batch.Orchestrator
	credentials  credentials.Provider
	sessions     batch.SessionFactory
	logger       logger.Logger
}

func NewService(r *resolver.Resolver, o *batch.Orchestrator, creds credentials.Provider, sessions batch.SessionFactory, log logger.Logger) *Service {
	return &Service{
		resolver:     r,
		orchestrator: o,
		credentials:  creds,
		sessions:     sessions,
		logger:       log.WithFields(map[string]interface{}{"component": "formfill"}),
	}
}

// Credentials exposes the provider, e.g. for the settings endpoint.
func (s *Service) Credentials() credentials.Provider {
	return s.credentials
}

func (s *Service) session(ctx context.Context) (resolver.Asker, error) {
	creds, err := credentials.Require(ctx, s.credentials)
	if err != nil {
		return nil, err
	}
	return s.sessions(creds)
}

// ResolveField resolves one field. The error is non-nil only for CONFIG_ERROR; every other
// failure is carried in the resolution.
func (s *Service) ResolveField(ctx context.Context, field models.FieldDescriptor) (FieldResolution, error) {
	session, err := s.session(ctx)
	if err != nil {
		return FieldResolution{}, err
	}

	result := s.resolver.Resolve(ctx, field, session)
	out := FieldResolution{Resolution: result}
	if result.Filled() {
		out.Value = apply.Coerce(field, result.Value)
	}
	return out, nil
}

// FillForm runs a batch. Values in the returned result are coerced for their controls.
func (s *Service) FillForm(ctx context.Context, req batch.Request) (models.BatchResult, error) {
	recorder := apply.NewRecorder(s.logger)
	result, err := s.orchestrator.Run(ctx, req, recorder.Apply)
	if err != nil {
		return result, err
	}
	result.Values = recorder.Values()
	return result, nil
}

// ResolveForm resolves a whole form in one conversation.
func (s *Service) ResolveForm(ctx context.Context, req resolver.FormRequest) (models.FormResolution, error) {
	session, err := s.session(ctx)
	if err != nil {
		return models.FormResolution{}, err
	}
	res, err := s.resolver.ResolveForm(ctx, req, session)
	if err != nil {
		return res, err
	}

	byName := make(map[string]models.FieldDescriptor, len(req.Fields))
	for _, f := range req.Fields {
		if _, ok := byName[f.Name]; !ok {
			byName[f.Name] = f
		}
	}
	for name, v := range res.Values {
		res.Values[name] = apply.Coerce(byName[name], v)
	}
	return res, nil
}
