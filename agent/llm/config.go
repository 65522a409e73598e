package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	openrouterx "github.com/tanpawarit/ad-buyer-orchestrator/pkg/openrouter"
)

// Role names a model consumer that may override the default model.
type Role string

const (
	RoleInterpreter Role = "interpreter"
	RoleNegotiator  Role = "negotiator"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"1000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.2"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	InterpreterModel       string  `envconfig:"INTERPRETER_MODEL" split_words:"true"`
	NegotiatorModel        string  `envconfig:"NEGOTIATOR_MODEL" split_words:"true"`
	InterpreterTemperature float32 `envconfig:"INTERPRETER_TEMPERATURE" split_words:"true" default:"-1"`
	NegotiatorTemperature  float32 `envconfig:"NEGOTIATOR_TEMPERATURE" split_words:"true" default:"-1"`
}

// Enabled reports whether a model is configured at all. Without one the
// orchestrator falls back to the rule-based interpreter.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.Model) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouterFor(role Role) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch role {
	case RoleInterpreter:
		if v := strings.TrimSpace(c.InterpreterModel); v != "" {
			modelName = v
		}
		if c.InterpreterTemperature >= 0 {
			temp = c.InterpreterTemperature
		}
	case RoleNegotiator:
		if v := strings.TrimSpace(c.NegotiatorModel); v != "" {
			modelName = v
		}
		if c.NegotiatorTemperature >= 0 {
			temp = c.NegotiatorTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
