package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	errs "github.com/sweetpotato0/partirag/errors"
	"github.com/sweetpotato0/partirag/retrieval"
)

// StepCache stores serialized step results for replay. Implementations return
// errors.ErrNotFound for absent keys. The cache is consulted only on the
// normal execution path; retries and correction reruns bypass it and refresh
// the entry afterwards.
type StepCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte) error
}

// cacheKey derives a stable key from the run's question, the stage and the
// preset driving it.
func cacheKey(question, stage, preset string) string {
	sum := sha256.Sum256([]byte(question + "\x00" + stage + "\x00" + preset))
	return "steps:" + hex.EncodeToString(sum[:])
}

type cachedEnvelope struct {
	StepName string          `json:"step_name"`
	Kind     ResultKind      `json:"result_kind"`
	Payload  json.RawMessage `json:"payload"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// decodeCachedResult rebuilds a typed StepResult from its serialized form.
// The payload type depends on the stage, mirroring what the live step
// produces.
func decodeCachedResult(stage string, data []byte) (*StepResult, error) {
	var env cachedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode cached step result: %w", err)
	}

	res := &StepResult{
		StepName: env.StepName,
		Kind:     env.Kind,
		Metadata: env.Metadata,
	}
	switch stage {
	case StagePlan:
		var plan Plan
		if err := json.Unmarshal(env.Payload, &plan); err != nil {
			return nil, err
		}
		res.Payload = &plan
	case StageQueryGeneration:
		var queries []string
		if err := json.Unmarshal(env.Payload, &queries); err != nil {
			return nil, err
		}
		res.Payload = queries
	case StageRetrieval:
		var docs []retrieval.Document
		if err := json.Unmarshal(env.Payload, &docs); err != nil {
			return nil, err
		}
		res.Payload = docs
	case StageFinalResponse:
		var answer Answer
		if err := json.Unmarshal(env.Payload, &answer); err != nil {
			return nil, err
		}
		res.Payload = &answer
	default:
		return nil, fmt.Errorf("stage %q: %w", stage, errs.ErrNotFound)
	}
	return res, nil
}
