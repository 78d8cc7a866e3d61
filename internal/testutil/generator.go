package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
)

// ScriptedGenerator plays back a fixed sequence of model responses. Each
// Generate call consumes the next response in order, which makes multi-step
// agent loops fully deterministic in tests.
//
// Thread-safe for concurrent use.
type ScriptedGenerator struct {
	mu        sync.Mutex
	responses []scriptedResponse
	next      int
	calls     []ScriptedCall
}

type scriptedResponse struct {
	text string
	err  error
}

// ScriptedCall records one call to the generator.
type ScriptedCall struct {
	Response string
	Err      error
}

// NewScriptedGenerator creates a generator that replies with texts in
// order.
func NewScriptedGenerator(texts ...string) *ScriptedGenerator {
	g := &ScriptedGenerator{}
	for _, t := range texts {
		g.responses = append(g.responses, scriptedResponse{text: t})
	}
	return g
}

// AddResponse appends a text response to the script.
func (g *ScriptedGenerator) AddResponse(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses = append(g.responses, scriptedResponse{text: text})
}

// AddError appends an error step to the script.
func (g *ScriptedGenerator) AddError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses = append(g.responses, scriptedResponse{err: err})
}

// Calls returns a copy of all recorded calls.
func (g *ScriptedGenerator) Calls() []ScriptedCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]ScriptedCall, len(g.calls))
	copy(cp, g.calls)
	return cp
}

// Generate returns the next scripted response. Running past the script ends
// the test loudly rather than hanging it.
func (g *ScriptedGenerator) Generate(_ context.Context, _ ...ai.GenerateOption) (*ai.ModelResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.next >= len(g.responses) {
		err := fmt.Errorf("scripted generator exhausted after %d responses", len(g.responses))
		g.calls = append(g.calls, ScriptedCall{Err: err})
		return nil, err
	}

	r := g.responses[g.next]
	g.next++
	g.calls = append(g.calls, ScriptedCall{Response: r.text, Err: r.err})
	if r.err != nil {
		return nil, r.err
	}
	return TextResponse(r.text), nil
}

// TextResponse wraps text as a minimal model response.
func TextResponse(text string) *ai.ModelResponse {
	return &ai.ModelResponse{
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(text)},
		},
	}
}

// ToolCallJSON renders an action and fields as the JSON tool-call wire form
// the synthesis loop parses.
func ToolCallJSON(action string, fields map[string]string) string {
	var sb strings.Builder
	sb.WriteString(`{"action": "` + action + `"`)
	for k, v := range fields {
		sb.WriteString(`, "` + k + `": ` + quoteJSON(v))
	}
	sb.WriteString("}")
	return sb.String()
}

func quoteJSON(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return `"` + s + `"`
}
