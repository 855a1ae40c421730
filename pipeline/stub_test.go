package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	errs "github.com/sweetpotato0/partirag/errors"
	"github.com/sweetpotato0/partirag/message"
	"github.com/sweetpotato0/partirag/retrieval"
)

// scriptedClient answers prompts by substring matching, so one client can
// serve every inference operation of a run. Prompts are recorded for
// assertions.
type scriptedClient struct {
	mu      sync.Mutex
	rules   []scriptRule
	prompts []string
	calls   int
}

type scriptRule struct {
	contains string
	reply    string
}

func (c *scriptedClient) on(contains, reply string) *scriptedClient {
	c.rules = append(c.rules, scriptRule{contains: contains, reply: reply})
	return c
}

func (c *scriptedClient) Generate(ctx context.Context, messages []*message.Message) (*message.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	prompt := messages[len(messages)-1].Text()
	c.prompts = append(c.prompts, prompt)
	for _, rule := range c.rules {
		if strings.Contains(prompt, rule.contains) {
			return message.NewMessage(message.RoleAssistant, rule.reply), nil
		}
	}
	return nil, fmt.Errorf("no scripted reply for prompt: %.80s", prompt)
}

func (c *scriptedClient) SetTemperature(temp float64) {}
func (c *scriptedClient) SetMaxTokens(max int64)      {}
func (c *scriptedClient) SetModel(model string)       {}

func (c *scriptedClient) sawPrompt(contains string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.prompts {
		if strings.Contains(p, contains) {
			return true
		}
	}
	return false
}

// defaultScript wires the replies for a complete successful run of the
// Venstre scenario.
func defaultScript() *scriptedClient {
	c := &scriptedClient{}
	// Correction reruns embed the original request, so this rule must come
	// before the operation rules.
	c.on("previous attempt",
		`{"steps":["Finn partiprogrammet til Venstre.","Sjekk stortingsvoteringer om private helsetjenester."]}`)
	c.on("anonymize questions",
		`{"anonymized_question":"Er partiet X positive til private helsetjenester?","mapping":{"X":"Venstre"},"explanation":"party name replaced"}`)
	c.on("research planner",
		`{"steps":["Finn partiprogrammet til X.","Sjekk hvordan X har stemt om private helsetjenester."]}`)
	c.on("generate search queries",
		`{"queries":["X partiprogram helse","X stemmegivning private helsetjenester"]}`)
	c.on("judge whether",
		`{"does_match":true,"explanation":"Programmet og stemmegivningen peker samme vei.","evidence":["Vi sier ja til private helsetilbud."]}`)
	return c
}

// configClient records the generation settings pushed onto it.
type configClient struct {
	*scriptedClient
	model       string
	temperature float64
	maxTokens   int64
}

func (c *configClient) SetModel(model string)       { c.model = model }
func (c *configClient) SetTemperature(temp float64) { c.temperature = temp }
func (c *configClient) SetMaxTokens(max int64)      { c.maxTokens = max }

// stubSearcher serves fixed documents per pool and can be told to fail
// individual queries.
type stubSearcher struct {
	pools    map[retrieval.Pool][]string
	failWith map[string]error
}

func newStubSearcher(pools ...retrieval.Pool) *stubSearcher {
	m := make(map[retrieval.Pool][]string)
	for _, pool := range pools {
		m[pool] = nil
	}
	return &stubSearcher{pools: m, failWith: make(map[string]error)}
}

func (s *stubSearcher) add(pool retrieval.Pool, docs ...string) {
	s.pools[pool] = append(s.pools[pool], docs...)
}

func (s *stubSearcher) Pools() []retrieval.Pool {
	out := make([]retrieval.Pool, 0, len(s.pools))
	for pool := range s.pools {
		out = append(out, pool)
	}
	return out
}

func (s *stubSearcher) Search(ctx context.Context, query string, pool retrieval.Pool, limit int) ([]retrieval.Document, error) {
	if err, ok := s.failWith[query]; ok {
		return nil, err
	}
	contents, ok := s.pools[pool]
	if !ok {
		return nil, fmt.Errorf("pool %q not served", pool)
	}
	if limit > len(contents) {
		limit = len(contents)
	}
	docs := make([]retrieval.Document, limit)
	for i := 0; i < limit; i++ {
		docs[i] = retrieval.Document{Content: contents[i], Pool: pool}
	}
	return docs, nil
}

// memCache is an in-memory StepCache for cache tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return data, nil
}

func (c *memCache) Set(ctx context.Context, key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = payload
	return nil
}
