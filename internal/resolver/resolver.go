// Package resolver turns field descriptors into values by asking the assistant and
// recovering whatever it answers.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Daily-Wins/dw-chromegpt/internal/assistant"
	apperrors "github.com/Daily-Wins/dw-chromegpt/internal/common/errors"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/metrics"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/observability"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
)

// Asker runs one prompt on a fresh conversation session. *assistant.Client implements it.
type Asker interface {
	Ask(ctx context.Context, prompt string, maxPolls int) (assistant.Reply, error)
}

type Config struct {
	FieldMaxPolls int
	FormMaxPolls  int
}

type Resolver struct {
	cfg    Config
	logger logger.Logger
	obs    *observability.Observability
}

func New(cfg Config, log logger.Logger, obs *observability.Observability) *Resolver {
	if cfg.FieldMaxPolls <= 0 {
		cfg.FieldMaxPolls = 30
	}
	if cfg.FormMaxPolls <= 0 {
		cfg.FormMaxPolls = 90
	}
	return &Resolver{
		cfg:    cfg,
		logger: log.WithFields(map[string]interface{}{"component": "resolver"}),
		obs:    obs,
	}
}

// Resolve produces exactly one result for field. It never returns an error: remote and
// parse failures become a failed outcome carrying the error code and message.
func (r *Resolver) Resolve(ctx context.Context, field models.FieldDescriptor, session Asker) models.ResolutionResult {
	field = field.Normalized()
	started := time.Now()

	ctx, span := r.obs.StartSpan(ctx, "resolver.Resolve",
		attribute.String("field.name", field.Name),
		attribute.String("field.type", string(field.Type)),
	)

	var result models.ResolutionResult
	reply, err := session.Ask(ctx, BuildFieldPrompt(field), r.cfg.FieldMaxPolls)
	if err != nil {
		result = failedResult(field.Name, err)
	} else {
		result = r.interpret(field.Name, reply.Text)
	}

	r.record(ctx, result, time.Since(started))
	span.SetAttributes(attribute.String("resolution.outcome", string(result.Outcome)))
	if result.Outcome == models.OutcomeFailed {
		observability.EndSpan(span, fmt.Errorf("%s", result.ErrorMessage))
	} else {
		observability.EndSpan(span, nil)
	}
	return result
}

// Interpret maps a raw reply onto a result for fieldName: sanitize, parse, look up the key,
// and fall back to pattern extraction on the raw text when parsing fails.
func Interpret(fieldName, raw string) models.ResolutionResult {
	result, _ := interpretReply(fieldName, raw)
	return result
}

func (r *Resolver) interpret(fieldName, raw string) models.ResolutionResult {
	result, tag := interpretReply(fieldName, raw)
	if tag != "" {
		metrics.FallbackExtractions.WithLabelValues(string(tag)).Inc()
		r.logger.Info("value recovered by fallback extraction", map[string]interface{}{
			"field":   fieldName,
			"pattern": string(tag),
		})
	}
	if result.ErrorCode == string(apperrors.ErrCodeParse) {
		r.logger.Warn("reply could not be parsed", map[string]interface{}{
			"field": fieldName,
			"error": result.ErrorMessage,
		})
		r.logger.Debug("unparseable reply", map[string]interface{}{"field": fieldName, "reply": raw})
	}
	return result
}

func interpretReply(fieldName, raw string) (models.ResolutionResult, PatternTag) {
	parsed, err := parseObject(Sanitize(raw))
	if err == nil {
		value, ok := lookup(parsed, fieldName)
		if !ok || value == nil {
			return models.ResolutionResult{FieldName: fieldName, Outcome: models.OutcomeNoValue}, ""
		}
		return models.ResolutionResult{FieldName: fieldName, Outcome: models.OutcomeResolved, Value: scalar(value)}, ""
	}

	if value, tag := ExtractFallbackTagged(raw, fieldName); value != nil {
		return models.ResolutionResult{FieldName: fieldName, Outcome: models.OutcomeResolved, Value: value}, tag
	}
	return failedResult(fieldName, apperrors.NewParseError(fieldName, err)), ""
}

func parseObject(s string) (map[string]interface{}, error) {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, fmt.Errorf("reply is not a JSON object")
	}
	return parsed, nil
}

// lookup prefers the exact key and accepts a case-insensitive match otherwise.
func lookup(parsed map[string]interface{}, name string) (interface{}, bool) {
	if v, ok := parsed[name]; ok {
		return v, true
	}
	for k, v := range parsed {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// scalar keeps JSON scalars and re-encodes objects and arrays as compact JSON text.
func scalar(v interface{}) interface{} {
	switch v.(type) {
	case string, bool, float64:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func failedResult(fieldName string, err error) models.ResolutionResult {
	return models.ResolutionResult{
		FieldName:    fieldName,
		Outcome:      models.OutcomeFailed,
		ErrorMessage: err.Error(),
		ErrorCode:    string(apperrors.Code(err)),
	}
}

func (r *Resolver) record(ctx context.Context, result models.ResolutionResult, elapsed time.Duration) {
	metrics.FieldResolutions.WithLabelValues(string(result.Outcome), result.ErrorCode).Inc()
	metrics.FieldResolutionDuration.WithLabelValues(string(result.Outcome)).Observe(elapsed.Seconds())
	r.obs.RecordResolution(ctx, string(result.Outcome), elapsed)

	fields := map[string]interface{}{
		"field":     result.FieldName,
		"outcome":   string(result.Outcome),
		"elapsedMs": elapsed.Milliseconds(),
	}
	if result.Outcome == models.OutcomeFailed {
		fields["errorCode"] = result.ErrorCode
		fields["error"] = result.ErrorMessage
		r.logger.Warn("field resolution failed", fields)
		return
	}
	r.logger.Info("field resolved", fields)
}

// ResolveForm asks for every field of a form in one conversation. Unlike Resolve it returns
// an error, since there is no per-field result to carry it.
func (r *Resolver) ResolveForm(ctx context.Context, req FormRequest, session Asker) (models.FormResolution, error) {
	if len(req.Fields) == 0 {
		return models.FormResolution{}, apperrors.NewInputValidationError("form has no fields")
	}
	fields := make([]models.FieldDescriptor, len(req.Fields))
	for i, f := range req.Fields {
		fields[i] = f.Normalized()
	}
	req.Fields = fields

	ctx, span := r.obs.StartSpan(ctx, "resolver.ResolveForm",
		attribute.Int("form.fields", len(req.Fields)),
		attribute.String("form.url", req.URL),
	)

	reply, err := session.Ask(ctx, BuildFormPrompt(req), r.cfg.FormMaxPolls)
	if err != nil {
		observability.EndSpan(span, err)
		return models.FormResolution{}, err
	}

	resolution := models.FormResolution{SessionID: reply.Session.SessionID, Values: map[string]interface{}{}}
	names := uniqueNames(req.Fields)

	parsed, parseErr := parseObject(Sanitize(reply.Text))
	for _, name := range names {
		var value interface{}
		if parseErr == nil {
			if v, ok := lookup(parsed, name); ok && v != nil {
				value = scalar(v)
			}
		} else {
			value = ExtractFallback(reply.Text, name)
		}
		if value == nil {
			resolution.Missing = append(resolution.Missing, name)
			continue
		}
		resolution.Values[name] = value
	}

	if parseErr != nil && len(resolution.Values) == 0 {
		err := apperrors.NewParseError("", parseErr)
		r.logger.Debug("unparseable form reply", map[string]interface{}{"reply": reply.Text})
		observability.EndSpan(span, err)
		return models.FormResolution{}, err
	}

	r.logger.Info("form resolved", map[string]interface{}{
		"sessionId": resolution.SessionID,
		"filled":    len(resolution.Values),
		"missing":   len(resolution.Missing),
		"fallback":  parseErr != nil,
	})
	observability.EndSpan(span, nil)
	return resolution, nil
}

func uniqueNames(fields []models.FieldDescriptor) []string {
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		out = append(out, f.Name)
	}
	return out
}
