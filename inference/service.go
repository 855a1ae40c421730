package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	errs "github.com/sweetpotato0/partirag/errors"
	"github.com/sweetpotato0/partirag/message"
	"github.com/sweetpotato0/partirag/pkg/logging"
	"github.com/sweetpotato0/partirag/prompt"
)

// Validatable is implemented by every target result shape. Validate is called
// after decoding and must reject structurally invalid model output.
type Validatable interface {
	Validate() error
}

// Service wraps an opaque text-generation client with structured-output
// semantics: it binds variables into a named template, requests a completion
// and decodes the reply into a typed result. Retry policy is deliberately not
// handled here; retries and corrections are a step-level concern.
type Service struct {
	client  Client
	prompts *prompt.Manager
	timeout time.Duration
	logger  *slog.Logger
}

// Option customises the inference service.
type Option func(*Service)

// WithPrompts overrides the template manager.
func WithPrompts(m *prompt.Manager) Option {
	return func(s *Service) {
		if m != nil {
			s.prompts = m
		}
	}
}

// WithTimeout bounds every model call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// NewService creates an inference service around the given client.
func NewService(client Client, opts ...Option) *Service {
	s := &Service{
		client:  client,
		prompts: prompt.DefaultManager(),
		timeout: 120 * time.Second,
		logger:  logging.WithComponent("inference"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetModel updates the underlying client's model.
func (s *Service) SetModel(model string) {
	if s.client != nil {
		s.client.SetModel(model)
	}
}

// SetTemperature updates the underlying client's sampling temperature.
func (s *Service) SetTemperature(temp float64) {
	if s.client != nil {
		s.client.SetTemperature(temp)
	}
}

// SetMaxTokens updates the underlying client's completion token limit.
func (s *Service) SetMaxTokens(max int64) {
	if s.client != nil {
		s.client.SetMaxTokens(max)
	}
}

// Render renders the named template with the given bindings without calling
// the model. Used by the correction protocol to reconstruct the original
// request text.
func (s *Service) Render(template string, bindings map[string]any) (string, error) {
	rendered, err := s.prompts.Render(template, bindings)
	if err != nil {
		return "", classifyRenderError(template, err)
	}
	return rendered, nil
}

// Infer renders the named template, asks the client for a completion and
// decodes the JSON reply into out. The bindings map is never mutated. A reply
// that does not decode into out, or that fails out.Validate, is reported as a
// schema violation rather than coerced.
func (s *Service) Infer(ctx context.Context, template string, bindings map[string]any, out Validatable) error {
	if s.client == nil {
		return fmt.Errorf("inference client is not configured")
	}

	rendered, err := s.Render(template, bindings)
	if err != nil {
		return err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := s.client.Generate(ctx, []*message.Message{
		message.NewMessage(message.RoleUser, rendered),
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("template %q: %w", template, errs.ErrTimeout)
		}
		return fmt.Errorf("template %q: generate: %w", template, err)
	}
	if reply == nil || strings.TrimSpace(reply.Text()) == "" {
		return fmt.Errorf("template %q: empty model reply: %w", template, errs.ErrSchemaViolation)
	}
	s.logger.Debug("inference completed",
		"template", template,
		"duration_ms", time.Since(start).Milliseconds(),
		"reply_bytes", len(reply.Text()),
	)

	clean := sanitizeJSON(reply.Text())
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return fmt.Errorf("template %q: decode reply: %v: %w", template, err, errs.ErrSchemaViolation)
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("template %q: %v: %w", template, err, errs.ErrSchemaViolation)
	}
	return nil
}

func classifyRenderError(template string, err error) error {
	// text/template reports unresolved variables under missingkey=error with
	// a "no entry for key" message.
	if strings.Contains(err.Error(), "no entry for key") {
		return fmt.Errorf("template %q: %v: %w", template, err, errs.ErrBindingMissing)
	}
	if strings.Contains(err.Error(), "not found") {
		return fmt.Errorf("template %q: %w", template, errs.ErrNotFound)
	}
	return fmt.Errorf("template %q: render: %w", template, err)
}

// sanitizeJSON strips markdown fences models wrap around JSON replies.
func sanitizeJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = trimmed[3:]
		trimmed = strings.TrimPrefix(trimmed, "json")
		trimmed = strings.TrimPrefix(trimmed, "JSON")
		if idx := strings.Index(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
	}
	return strings.TrimSpace(trimmed)
}
