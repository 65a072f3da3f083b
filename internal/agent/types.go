package agent

import (
	"time"

	"github.com/tagweave/tagweave/internal/codec"
	"github.com/tagweave/tagweave/internal/provider"
	"github.com/tagweave/tagweave/internal/stream"
)

// Phase names reported to the progress sink and recorded in telemetry.
const (
	PhaseFieldResolution      = "field_resolution"
	PhaseProviderSelection    = "provider_selection"
	PhaseCapabilityDiscovery  = "capability_discovery"
	PhaseCapabilitySelection  = "capability_selection"
	PhaseParameterSynthesis   = "parameter_synthesis"
	PhaseCapabilityInvocation = "capability_invocation"
	PhaseGeneration           = "generation"
)

// ToolCall records one capability invocation made during a run.
type ToolCall struct {
	Provider   string         `json:"provider"`
	Capability string         `json:"capability"`
	Params     map[string]any `json:"params,omitempty"`
	Result     any            `json:"result,omitempty"`
}

// Usage aggregates tokens and spend across every model call in a run.
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// Result is the outcome of a completed run. Output is the reconciled record;
// Raw is the full response text it was decoded from.
type Result struct {
	ID        string        `json:"id"`
	Output    *codec.Map    `json:"output"`
	Raw       string        `json:"raw"`
	ToolCalls []ToolCall    `json:"tool_calls,omitempty"`
	Usage     Usage         `json:"usage"`
	Duration  time.Duration `json:"-"`
}

// Progress receives lifecycle and streaming callbacks during a run. Calls
// arrive sequentially from the running goroutine; a blocking implementation
// stalls the run.
type Progress interface {
	// Phase is called as the run moves through its states. detail is a short
	// human-readable note, possibly empty.
	Phase(name, detail string)
	// Field is called for every streaming field update during generation.
	Field(update stream.Update)
}

// RunOption adjusts a single run.
type RunOption func(*runOptions)

type runOptions struct {
	progress Progress
	stream   bool
	runID    string
}

// WithProgress attaches a progress sink to the run.
func WithProgress(p Progress) RunOption {
	return func(o *runOptions) { o.progress = p }
}

// WithRunID fixes the run identifier instead of generating one. Callers that
// persist a run row before starting use it to key both at once.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithStream routes the final generation call through the streaming
// extractor. Field updates reach the sink attached with WithProgress.
func WithStream() RunOption {
	return func(o *runOptions) { o.stream = true }
}

// runState accumulates usage and tool call records while a run executes.
// One instance per run, never shared.
type runState struct {
	usage      Usage
	toolCalls  []ToolCall
	modelsUsed []string
	modelSeen  map[string]bool
	capsUsed   []string
	capSeen    map[string]bool
}

func newRunState() *runState {
	return &runState{
		modelSeen: make(map[string]bool),
		capSeen:   make(map[string]bool),
	}
}

func (s *runState) addUsage(model string, u provider.Usage) {
	s.usage.PromptTokens += u.PromptTokens
	s.usage.CompletionTokens += u.CompletionTokens
	s.usage.Cost += u.Cost
	if model != "" && !s.modelSeen[model] {
		s.modelSeen[model] = true
		s.modelsUsed = append(s.modelsUsed, model)
	}
}

func (s *runState) addToolCall(call ToolCall) {
	s.toolCalls = append(s.toolCalls, call)
	key := call.Provider + "/" + call.Capability
	if !s.capSeen[key] {
		s.capSeen[key] = true
		s.capsUsed = append(s.capsUsed, key)
	}
}

func (s *runState) tokens() int64 {
	return s.usage.PromptTokens + s.usage.CompletionTokens
}
