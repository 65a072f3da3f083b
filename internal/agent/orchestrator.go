// Package agent drives tool-augmented structured generation: validate the
// input, resolve directive fields, pick capability providers and their
// capabilities, invoke them, generate the final record, and reconcile it
// against the declared output shape.
//
// Model-produced decisions are unreliable by nature, so every decision point
// carries a fallback: provider selection fails open to every configured
// provider, capability selection fails closed to the first discovered
// capability, parameter synthesis falls back to no parameters, field
// resolution leaves the input untouched, and output validation falls back to
// an empty record. Only transport failures abort a run.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tagweave/tagweave/config"
	"github.com/tagweave/tagweave/internal/capability"
	"github.com/tagweave/tagweave/internal/codec"
	"github.com/tagweave/tagweave/internal/provider"
	"github.com/tagweave/tagweave/internal/shape"
	"github.com/tagweave/tagweave/internal/stream"
	"github.com/tagweave/tagweave/internal/telemetry"
)

var agentTracer trace.Tracer = otel.Tracer("tagweave/internal/agent")

// resolveDirective marks an input field description as externally resolved:
// "resolve:<provider-or-address> <instruction>".
const resolveDirective = "resolve:"

// Orchestrator runs generation requests. It holds only immutable
// configuration after construction and is safe for concurrent Run calls.
type Orchestrator struct {
	logger    *log.Logger
	telemetry *telemetry.Telemetry
	generator provider.Generator
	source    capability.Source
	registry  *capability.Registry

	input  *shape.Shape
	output *shape.Shape

	models      runModels
	skeleton    *codec.Map
	instruction string
	timeout     time.Duration

	semaphore chan struct{}
}

type runModels struct {
	generation string
	selection  string
	synthesis  string
}

// New builds an orchestrator. The output shape is mandatory; a nil input
// shape passes inputs through unvalidated. A capability source is required
// as soon as providers are registered.
func New(cfg *config.Config, logger *log.Logger, tel *telemetry.Telemetry, gen provider.Generator, src capability.Source, registry *capability.Registry, input, output *shape.Shape) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if output == nil {
		return nil, errors.New("output shape is required")
	}
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if registry != nil && len(registry.Providers()) > 0 && src == nil {
		return nil, errors.New("capability source is required when providers are configured")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}
	if tel == nil {
		tel = telemetry.New(config.TelemetryConfig{})
	}

	models := runModels{
		generation: cfg.LLM.ModelFor("generation"),
		selection:  cfg.LLM.ModelFor("selection"),
		synthesis:  cfg.LLM.ModelFor("synthesis"),
	}
	if models.generation == "" {
		return nil, errors.New("no model routed for generation")
	}

	general := cfg.General.Normalize()

	return &Orchestrator{
		logger:      logger,
		telemetry:   tel,
		generator:   gen,
		source:      src,
		registry:    registry,
		input:       input,
		output:      output,
		models:      models,
		skeleton:    output.Skeleton(),
		instruction: buildInstruction(output),
		timeout:     general.DefaultTimeout,
		semaphore:   make(chan struct{}, general.MaxConcurrentRuns),
	}, nil
}

// Run executes one generation request. input may be nil.
func (o *Orchestrator) Run(ctx context.Context, input *codec.Map, opts ...RunOption) (Result, error) {
	var options runOptions
	for _, opt := range opts {
		opt(&options)
	}
	if input == nil {
		input = codec.NewMap()
	}

	start := time.Now()
	runID := options.runID
	if runID == "" {
		runID = uuid.New().String()
	}

	ctx, span := agentTracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Bool("run.stream", options.stream),
		))
	defer span.End()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	select {
	case o.semaphore <- struct{}{}:
		defer func() { <-o.semaphore }()
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	state := newRunState()
	event := telemetry.RunEvent{ID: runID, StartTime: start}
	defer func() {
		event.EndTime = time.Now()
		event.Duration = event.EndTime.Sub(event.StartTime)
		event.Cost = state.usage.Cost
		event.TokensUsed = state.tokens()
		event.ModelsUsed = state.modelsUsed
		event.CapabilitiesUsed = state.capsUsed
		o.telemetry.RecordRunEvent(ctx, event)
	}()

	o.logger.Printf("Starting run %s", runID)

	result, err := o.run(ctx, runID, input, state, options)
	if err != nil {
		event.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	event.Success = true

	result.Duration = time.Since(start)
	o.logger.Printf("Completed run %s in %v", runID, result.Duration)
	span.SetAttributes(
		attribute.Float64("run.cost_usd", state.usage.Cost),
		attribute.Int64("run.tokens", state.tokens()),
		attribute.Int("run.tool_calls", len(state.toolCalls)),
	)
	span.SetStatus(codes.Ok, "completed")
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, runID string, input *codec.Map, state *runState, options runOptions) (Result, error) {
	validated, err := o.validateInput(input)
	if err != nil {
		return Result{}, err
	}

	o.resolveFields(ctx, state, validated, options.progress)

	providers, err := o.selectProviders(ctx, state, validated, options.progress)
	if err != nil {
		return Result{}, err
	}

	toolResults, err := o.gatherTools(ctx, state, validated, providers, options.progress)
	if err != nil {
		return Result{}, err
	}

	raw, err := o.generate(ctx, state, o.buildPrompt(validated, toolResults), options)
	if err != nil {
		return Result{}, err
	}

	return Result{
		ID:        runID,
		Output:    o.reconcile(raw),
		Raw:       raw,
		ToolCalls: state.toolCalls,
		Usage:     state.usage,
	}, nil
}

func (o *Orchestrator) validateInput(input *codec.Map) (*codec.Map, error) {
	if o.input == nil {
		return input, nil
	}
	validated, err := o.input.ValidateInput(input)
	if err != nil {
		return nil, fmt.Errorf("input validation failed: %w", err)
	}
	return validated, nil
}

// resolveFields replaces directive-carrying input fields with capability
// results. Every failure is logged and leaves the field as given.
func (o *Orchestrator) resolveFields(ctx context.Context, state *runState, input *codec.Map, p Progress) {
	if o.input == nil {
		return
	}
	for _, f := range o.input.Fields() {
		providerName, address, instruction, ok := o.parseResolution(f.Description)
		if !ok {
			continue
		}
		o.notify(p, PhaseFieldResolution, f.Name)

		fieldCtx, span := agentTracer.Start(ctx, "agent.resolve_field",
			trace.WithAttributes(
				attribute.String("field", f.Name),
				attribute.String("capability.address", address),
			))
		value, err := o.resolveField(fieldCtx, state, p, f.Name, providerName, address, instruction, input)
		if err != nil {
			o.logger.Printf("resolving field %s failed, keeping input value: %v", f.Name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			continue
		}
		input.Set(f.Name, value)
		span.SetStatus(codes.Ok, "completed")
		span.End()
	}
}

// parseResolution splits a "resolve:<token> <instruction>" description. The
// token is looked up as a registered provider name first and falls back to a
// literal address.
func (o *Orchestrator) parseResolution(description string) (providerName, address, instruction string, ok bool) {
	if !strings.HasPrefix(description, resolveDirective) {
		return "", "", "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(description, resolveDirective))
	token := rest
	if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
		token, instruction = rest[:i], strings.TrimSpace(rest[i+1:])
	}
	if token == "" {
		return "", "", "", false
	}
	if o.registry != nil {
		if prov, found := o.registry.Provider(token); found {
			return prov.Name, prov.Address, instruction, true
		}
	}
	return token, token, instruction, true
}

func (o *Orchestrator) resolveField(ctx context.Context, state *runState, p Progress, field, providerName, address, instruction string, input *codec.Map) (any, error) {
	if o.source == nil {
		return nil, errors.New("no capability source configured")
	}
	caps, err := o.source.Discover(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	if len(caps) == 0 {
		return nil, fmt.Errorf("no capabilities at %s", address)
	}

	text, err := o.complete(ctx, state, PhaseFieldResolution, o.models.selection, resolutionMessages(input, field, instruction, caps))
	if err != nil {
		return nil, fmt.Errorf("select capability: %w", err)
	}
	names := decodeNames(text)
	if len(names) == 0 {
		return nil, errors.New("no capability selected")
	}
	chosen, found := matchCapability(caps, names[0])
	if !found {
		return nil, fmt.Errorf("selected capability %q not offered", names[0])
	}

	params, err := o.synthesizeParams(ctx, state, input, chosen)
	if err != nil {
		return nil, fmt.Errorf("synthesize params: %w", err)
	}

	return o.invoke(ctx, state, p, providerName, address, chosen, params)
}

// selectProviders asks the model which providers matter for this input. An
// undecodable or unrecognized answer selects every configured provider.
func (o *Orchestrator) selectProviders(ctx context.Context, state *runState, input *codec.Map, p Progress) ([]capability.Provider, error) {
	if o.registry == nil {
		return nil, nil
	}
	providers := o.registry.Providers()
	if len(providers) == 0 {
		return nil, nil
	}

	ctx, span := agentTracer.Start(ctx, "agent.select_providers",
		trace.WithAttributes(attribute.Int("providers.configured", len(providers))))
	defer span.End()

	text, err := o.complete(ctx, state, PhaseProviderSelection, o.models.selection, providerSelectionMessages(input, providers))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("provider selection failed: %w", err)
	}

	selected := matchProviders(providers, decodeNames(text))
	if len(selected) == 0 {
		selected = providers
	}

	o.notify(p, PhaseProviderSelection, fmt.Sprintf("%d of %d providers", len(selected), len(providers)))
	span.SetAttributes(attribute.Int("providers.selected", len(selected)))
	span.SetStatus(codes.Ok, "completed")
	return selected, nil
}

// gatherTools discovers and invokes capabilities for every selected
// provider, accumulating results keyed provider.capability.
func (o *Orchestrator) gatherTools(ctx context.Context, state *runState, input *codec.Map, providers []capability.Provider, p Progress) (*codec.Map, error) {
	results := codec.NewMap()
	for _, prov := range providers {
		provCtx, span := agentTracer.Start(ctx, "agent.tools",
			trace.WithAttributes(attribute.String("capability.provider", prov.Name)))

		caps, err := o.source.Discover(provCtx, prov.Address)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, fmt.Errorf("discovering %s: %w", prov.Name, err)
		}
		if o.registry != nil {
			if err := o.registry.VerifyCatalog(prov.Name, caps); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.End()
				return nil, err
			}
		}
		o.notify(p, PhaseCapabilityDiscovery, fmt.Sprintf("%s: %d capabilities", prov.Name, len(caps)))
		if len(caps) == 0 {
			span.SetStatus(codes.Ok, "completed")
			span.End()
			continue
		}

		selected, err := o.selectCapabilities(provCtx, state, input, prov, caps)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, err
		}
		o.notify(p, PhaseCapabilitySelection, fmt.Sprintf("%s: %d of %d capabilities", prov.Name, len(selected), len(caps)))

		for _, cap := range selected {
			params, err := o.synthesizeParams(provCtx, state, input, cap)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.End()
				return nil, err
			}
			if err := capability.ValidateParams(cap.InputSchema, params); err != nil {
				o.logger.Printf("params for %s.%s do not match the declared schema: %v", prov.Name, cap.Name, err)
			}
			result, err := o.invoke(provCtx, state, p, prov.Name, prov.Address, cap, params)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.End()
				return nil, fmt.Errorf("invoking %s.%s: %w", prov.Name, cap.Name, err)
			}
			results.Set(prov.Name+"."+cap.Name, result)
		}
		span.SetStatus(codes.Ok, "completed")
		span.End()
	}
	return results, nil
}

// selectCapabilities asks the model which of a provider's capabilities to
// call. An undecodable or unrecognized answer falls back to the first
// capability alone.
func (o *Orchestrator) selectCapabilities(ctx context.Context, state *runState, input *codec.Map, prov capability.Provider, caps []capability.Capability) ([]capability.Capability, error) {
	text, err := o.complete(ctx, state, PhaseCapabilitySelection, o.models.selection, capabilitySelectionMessages(input, prov, caps))
	if err != nil {
		return nil, fmt.Errorf("capability selection for %s failed: %w", prov.Name, err)
	}
	selected := matchCapabilities(caps, decodeNames(text))
	if len(selected) == 0 {
		selected = caps[:1]
	}
	return selected, nil
}

// synthesizeParams asks the model for call parameters. A response that does
// not decode to a mapping yields empty parameters.
func (o *Orchestrator) synthesizeParams(ctx context.Context, state *runState, input *codec.Map, cap capability.Capability) (map[string]any, error) {
	text, err := o.complete(ctx, state, PhaseParameterSynthesis, o.models.synthesis, paramSynthesisMessages(input, cap))
	if err != nil {
		return nil, fmt.Errorf("parameter synthesis for %s failed: %w", cap.Name, err)
	}
	return decodeParams(text), nil
}

// invoke calls one capability and records the attempt.
func (o *Orchestrator) invoke(ctx context.Context, state *runState, p Progress, providerName, address string, cap capability.Capability, params map[string]any) (any, error) {
	o.notify(p, PhaseCapabilityInvocation, providerName+"."+cap.Name)

	invokeCtx, span := agentTracer.Start(ctx, "agent.invoke",
		trace.WithAttributes(
			attribute.String("capability.provider", providerName),
			attribute.String("capability.name", cap.Name),
		))
	defer span.End()

	start := time.Now()
	result, err := o.source.Invoke(invokeCtx, address, cap.Name, params)

	event := telemetry.CapabilityEvent{
		ID:         uuid.New().String(),
		Provider:   providerName,
		Capability: cap.Name,
		StartTime:  start,
		EndTime:    time.Now(),
	}
	event.Duration = event.EndTime.Sub(event.StartTime)
	if err != nil {
		event.Error = err.Error()
		o.telemetry.RecordCapabilityEvent(invokeCtx, event)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	event.Success = true
	o.telemetry.RecordCapabilityEvent(invokeCtx, event)

	state.addToolCall(ToolCall{Provider: providerName, Capability: cap.Name, Params: params, Result: result})
	span.SetStatus(codes.Ok, "completed")
	return result, nil
}

// buildPrompt assembles the final generation prompt: input, response format,
// instruction, and the tool results when any carry content.
func (o *Orchestrator) buildPrompt(input, toolResults *codec.Map) *codec.Map {
	prompt := codec.NewMap()
	prompt.Set("input", input)
	prompt.Set("response_format", o.skeleton)
	prompt.Set("instruction", o.instruction)
	if hasContent(toolResults) {
		prompt.Set("context", toolResults)
	}
	return prompt
}

// generate makes the final model call, streaming through the extractor when
// requested. An empty response is not an error; reconcile turns it into an
// empty record.
func (o *Orchestrator) generate(ctx context.Context, state *runState, prompt *codec.Map, options runOptions) (string, error) {
	o.notify(options.progress, PhaseGeneration, o.models.generation)

	ctx, span := agentTracer.Start(ctx, "agent.generate",
		trace.WithAttributes(
			attribute.String("model", o.models.generation),
			attribute.Bool("stream", options.stream),
		))
	defer span.End()

	req := provider.Request{Model: o.models.generation, Messages: generationMessages(prompt)}

	start := time.Now()
	var (
		resp *provider.Response
		raw  string
		err  error
	)
	if options.stream {
		extractor := stream.NewExtractor(func(u stream.Update) {
			if options.progress != nil {
				options.progress.Field(u)
			}
		})
		resp, err = o.generator.GenerateStream(ctx, req, extractor.Feed)
		if err == nil {
			raw = extractor.Close()
		}
	} else {
		resp, err = o.generator.Generate(ctx, req)
		if err == nil {
			raw = resp.Text
		}
	}

	event := telemetry.GenerationEvent{
		ID:        uuid.New().String(),
		Phase:     PhaseGeneration,
		Model:     o.models.generation,
		StartTime: start,
		EndTime:   time.Now(),
	}
	event.Duration = event.EndTime.Sub(event.StartTime)
	if err != nil {
		event.Error = err.Error()
		o.telemetry.RecordGenerationEvent(ctx, event)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("generation failed: %w", err)
	}
	event.Success = true
	event.Cost = resp.Usage.Cost
	event.TokensUsed = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	o.telemetry.RecordGenerationEvent(ctx, event)

	state.addUsage(o.models.generation, resp.Usage)
	span.SetStatus(codes.Ok, "completed")
	return raw, nil
}

// complete makes one non-streaming model call and records it.
func (o *Orchestrator) complete(ctx context.Context, state *runState, phase, model string, messages []provider.Message) (string, error) {
	start := time.Now()
	resp, err := o.generator.Generate(ctx, provider.Request{Model: model, Messages: messages})

	event := telemetry.GenerationEvent{
		ID:        uuid.New().String(),
		Phase:     phase,
		Model:     model,
		StartTime: start,
		EndTime:   time.Now(),
	}
	event.Duration = event.EndTime.Sub(event.StartTime)
	if err != nil {
		event.Error = err.Error()
		o.telemetry.RecordGenerationEvent(ctx, event)
		return "", err
	}
	event.Success = true
	event.Cost = resp.Usage.Cost
	event.TokensUsed = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	o.telemetry.RecordGenerationEvent(ctx, event)

	state.addUsage(model, resp.Usage)
	return resp.Text, nil
}

func (o *Orchestrator) notify(p Progress, phase, detail string) {
	if p != nil {
		p.Phase(phase, detail)
	}
}

func matchProviders(providers []capability.Provider, names []string) []capability.Provider {
	if len(names) == 0 {
		return nil
	}
	var out []capability.Provider
	for _, p := range providers {
		for _, n := range names {
			if strings.EqualFold(p.Name, n) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func matchCapabilities(caps []capability.Capability, names []string) []capability.Capability {
	if len(names) == 0 {
		return nil
	}
	var out []capability.Capability
	for _, c := range caps {
		for _, n := range names {
			if strings.EqualFold(c.Name, n) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func matchCapability(caps []capability.Capability, name string) (capability.Capability, bool) {
	for _, c := range caps {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return capability.Capability{}, false
}

// hasContent reports whether any tool result holds something worth showing
// the model.
func hasContent(m *codec.Map) bool {
	if m == nil {
		return false
	}
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		switch v := pair.Value.(type) {
		case nil:
		case string:
			if strings.TrimSpace(v) != "" {
				return true
			}
		case *codec.Map:
			if v.Len() > 0 {
				return true
			}
		case map[string]any:
			if len(v) > 0 {
				return true
			}
		case []any:
			if len(v) > 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}
