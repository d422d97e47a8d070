// Package credentials supplies the assistant API key and assistant id.
package credentials

import (
	"context"
	"strings"

	apperrors "github.com/Daily-Wins/dw-chromegpt/internal/common/errors"
)

// Credentials is an immutable snapshot handed to one assistant client.
type Credentials struct {
	APIKey      string `json:"apiKey"`
	AssistantID string `json:"assistantId"`
}

// Validate returns a CONFIG_ERROR naming whatever is missing.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(c.AssistantID) == "" {
		missing = append(missing, "assistant id")
	}
	if len(missing) > 0 {
		return apperrors.NewConfigError("missing " + strings.Join(missing, " and "))
	}
	return nil
}

// Status reports which parts are present without exposing the key.
type Status struct {
	APIKeySet      bool   `json:"apiKeySet"`
	AssistantIDSet bool   `json:"assistantIdSet"`
	AssistantID    string `json:"assistantId,omitempty"`
	Source         string `json:"source"`
}

// Provider returns the current credentials.
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Store is a Provider that can also be updated at runtime.
type Store interface {
	Provider
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

// Require fetches credentials from p and fails with CONFIG_ERROR when they are incomplete.
func Require(ctx context.Context, p Provider) (Credentials, error) {
	if p == nil {
		return Credentials{}, apperrors.NewConfigError("no credentials provider")
	}
	creds, err := p.Credentials(ctx)
	if err != nil {
		return Credentials{}, err
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Describe builds a Status for creds.
func Describe(creds Credentials, source string) Status {
	return Status{
		APIKeySet:      strings.TrimSpace(creds.APIKey) != "",
		AssistantIDSet: strings.TrimSpace(creds.AssistantID) != "",
		AssistantID:    creds.AssistantID,
		Source:         source,
	}
}

// Static serves fixed credentials, typically from config or the environment.
type Static struct {
	creds Credentials
}

func NewStatic(apiKey, assistantID string) *Static {
	return &Static{creds: Credentials{APIKey: apiKey, AssistantID: assistantID}}
}

func (s *Static) Credentials(context.Context) (Credentials, error) {
	return s.creds, nil
}
