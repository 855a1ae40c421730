package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/sweetpotato0/partirag/retrieval"
)

func TestCacheKeyStability(t *testing.T) {
	a := cacheKey(venstreQuestion, StagePlan, PresetAnonymizedPlan)
	b := cacheKey(venstreQuestion, StagePlan, PresetAnonymizedPlan)
	if a != b {
		t.Error("cache key is not deterministic")
	}
	if a == cacheKey(venstreQuestion, StageRetrieval, PresetAnonymizedPlan) {
		t.Error("different stages collide")
	}
	if a == cacheKey("annet spørsmål", StagePlan, PresetAnonymizedPlan) {
		t.Error("different questions collide")
	}
}

func TestDecodeCachedResultRestoresTypes(t *testing.T) {
	tests := []struct {
		stage   string
		payload any
		check   func(t *testing.T, res *StepResult)
	}{
		{
			stage:   StagePlan,
			payload: &Plan{Steps: []string{"steg en"}},
			check: func(t *testing.T, res *StepResult) {
				if plan, ok := res.Payload.(*Plan); !ok || plan.Steps[0] != "steg en" {
					t.Errorf("payload = %#v", res.Payload)
				}
			},
		},
		{
			stage:   StageQueryGeneration,
			payload: []string{"q1", "q2"},
			check: func(t *testing.T, res *StepResult) {
				if qs, ok := res.Payload.([]string); !ok || len(qs) != 2 {
					t.Errorf("payload = %#v", res.Payload)
				}
			},
		},
		{
			stage:   StageRetrieval,
			payload: []retrieval.Document{{Content: "c", Pool: retrieval.PoolQuote, OriginQuery: "q"}},
			check: func(t *testing.T, res *StepResult) {
				docs, ok := res.Payload.([]retrieval.Document)
				if !ok || docs[0].Pool != retrieval.PoolQuote {
					t.Errorf("payload = %#v", res.Payload)
				}
			},
		},
		{
			stage:   StageFinalResponse,
			payload: &Answer{DoesMatch: true, Explanation: "ok"},
			check: func(t *testing.T, res *StepResult) {
				if ans, ok := res.Payload.(*Answer); !ok || !ans.DoesMatch {
					t.Errorf("payload = %#v", res.Payload)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			data, err := json.Marshal(&StepResult{StepName: tt.stage, Kind: KindList, Payload: tt.payload})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			res, err := decodeCachedResult(tt.stage, data)
			if err != nil {
				t.Fatalf("decodeCachedResult() error: %v", err)
			}
			tt.check(t, res)
		})
	}
}

func TestDecodeCachedResultUnknownStage(t *testing.T) {
	if _, err := decodeCachedResult("bogus", []byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}
