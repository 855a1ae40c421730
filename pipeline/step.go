package pipeline

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sweetpotato0/partirag/inference"
	"github.com/sweetpotato0/partirag/prompt"
)

// Step is implemented by every pipeline stage. Execute runs the stage's
// primary logic and must not depend on hidden state from unrelated previous
// calls; Retry re-invokes it with the same last-used input. Corrections are
// keyed by named sub-operation and are single-use: once an operation has run
// with a correction applied, a subsequent plain Execute is unaffected.
type Step interface {
	Name() string
	Execute(ctx context.Context) (*StepResult, error)
	Retry(ctx context.Context) (*StepResult, error)
	RegisterCorrection(operation, feedback string)
	RerunWithCorrection(ctx context.Context, operation, feedback string) (*StepResult, error)
}

// corrections tracks pending feedback per named sub-operation. At most one
// correction is pending per operation; registering again overwrites.
type corrections struct {
	mu      sync.Mutex
	pending map[string]string
}

func newCorrections() *corrections {
	return &corrections{pending: make(map[string]string)}
}

func (c *corrections) set(operation, feedback string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[operation] = feedback
}

// take consumes the pending correction for the operation, if any. Consuming
// up front means the correction is cleared whether the rerun succeeds or not.
func (c *corrections) take(operation string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	feedback, ok := c.pending[operation]
	if ok {
		delete(c.pending, operation)
	}
	return feedback, ok
}

// opRunner executes one named inference operation, transparently switching to
// the correction path when feedback is pending for that operation. It also
// remembers each operation's last output so a correction run can show the
// model its previous attempt.
type opRunner struct {
	svc  *inference.Service
	corr *corrections

	mu       sync.Mutex
	lastOuts map[string]string
}

func newOpRunner(svc *inference.Service, corr *corrections) *opRunner {
	return &opRunner{
		svc:      svc,
		corr:     corr,
		lastOuts: make(map[string]string),
	}
}

// run performs the named operation: render template with bindings, infer into
// out. When a correction is pending for operation, the original request text,
// the previous output and the feedback are handed to the rerun template
// instead, requesting a revised result in the same shape.
func (r *opRunner) run(ctx context.Context, operation, template string, bindings map[string]any, out inference.Validatable) error {
	feedback, corrected := r.corr.take(operation)

	var err error
	if corrected {
		original, renderErr := r.svc.Render(template, bindings)
		if renderErr != nil {
			return renderErr
		}
		err = r.svc.Infer(ctx, prompt.TemplateRerunWithCorrection, map[string]any{
			"original_prompt":  original,
			"previous_attempt": r.lastOutput(operation),
			"user_feedback":    feedback,
		}, out)
	} else {
		err = r.svc.Infer(ctx, template, bindings, out)
	}
	if err != nil {
		return err
	}

	r.remember(operation, out)
	return nil
}

func (r *opRunner) remember(operation string, out any) {
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastOuts[operation] = string(data)
}

func (r *opRunner) lastOutput(operation string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOuts[operation]
}
