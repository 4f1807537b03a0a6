// Package runtime drives admitted cognitive loops through their phases:
// it assembles the prompt from memory and graph context, dispatches to
// the model, runs requested sandbox code, and feeds each phase output
// back into the controller.
package runtime

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	agentservice "github.com/BradA1878/model-exchange-framework-sub007/internal/agent/service"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/contextasm"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events/bus"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/knowledge"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/llm"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/memory"
	memmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/memory/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/orpar"
	orparmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/orpar/models"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/sandbox"
)

const systemPrompt = `You are an autonomous agent in a multi-agent coordination framework.
Work through your cognitive loop one phase at a time. Be concise and concrete.`

const historyWindow = 30

// phaseInstructions prompt the model for each recorded phase's output.
var phaseInstructions = map[orparmodels.Phase]string{
	orparmodels.PhaseReasoning:  "Reason about the observation above. What matters, and why?",
	orparmodels.PhasePlan:       "Produce a short ordered plan for acting on your reasoning.",
	orparmodels.PhaseAct:        "Execute the plan. Use the execute_code tool if computation helps.",
	orparmodels.PhaseReflection: "Reflect on the cycle: what worked, what failed, what to observe next.",
}

// executeCodeTool is offered during the act phase.
var executeCodeTool = llm.Tool{
	Name:        "execute_code",
	Description: "Run a JavaScript or TypeScript snippet in an isolated sandbox and return its output.",
	InputSchema: &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"code":     {Type: "string", Description: "The snippet to run."},
			"language": {Type: "string", Enum: []interface{}{"javascript", "typescript"}},
		},
		Required: []string{"code"},
	},
}

// Worker consumes loop admissions from the bus and runs each loop's
// cycle to completion.
type Worker struct {
	controller *orpar.Controller
	assembler  *contextasm.Assembler
	dispatcher *llm.Dispatcher
	executor   *sandbox.Executor
	memory     *memory.Service
	graph      *knowledge.Engine
	agents     *agentservice.Service
	bus        bus.EventBus
	opts       llm.Options
	logger     *logger.Logger

	sub bus.Subscription
}

// NewWorker creates a worker. The graph engine may be nil when the
// knowledge graph is disabled.
func NewWorker(
	controller *orpar.Controller,
	dispatcher *llm.Dispatcher,
	executor *sandbox.Executor,
	memorySvc *memory.Service,
	graph *knowledge.Engine,
	agents *agentservice.Service,
	eventBus bus.EventBus,
	opts llm.Options,
	log *logger.Logger,
) *Worker {
	return &Worker{
		controller: controller,
		assembler:  contextasm.New(),
		dispatcher: dispatcher,
		executor:   executor,
		memory:     memorySvc,
		graph:      graph,
		agents:     agents,
		bus:        eventBus,
		opts:       opts,
		logger:     log.WithFields(zap.String("component", "runtime-worker")),
	}
}

// Start subscribes the worker to loop admissions. Workers share one
// queue group so each admitted loop lands on exactly one worker.
func (w *Worker) Start() error {
	sub, err := w.bus.QueueSubscribe(
		events.BuildChannelWildcardSubject(events.LoopStarted),
		"runtime-workers",
		w.onLoopStarted,
	)
	if err != nil {
		return err
	}
	w.sub = sub
	w.logger.Info("Runtime worker started")
	return nil
}

// Stop detaches the worker from the bus.
func (w *Worker) Stop() {
	if w.sub != nil {
		_ = w.sub.Unsubscribe()
	}
}

func (w *Worker) onLoopStarted(ctx context.Context, event *bus.Event) error {
	agentID, _ := event.Data["agentId"].(string)
	channelID, _ := event.Data["channelId"].(string)
	if agentID == "" || channelID == "" {
		return nil
	}
	w.runCycle(ctx, agentID, channelID)
	return nil
}

// runCycle drives the loop until the controller stops it: each pass
// advances through reasoning, plan, act, and reflection, then seeds the
// next observation. A dispatch failure is recorded as a failed
// reflection and the loop stops; the failure class never marks a task
// failed from here.
func (w *Worker) runCycle(ctx context.Context, agentID, channelID string) {
	for w.controller.IsActive(agentID, channelID) {
		if !w.runOnce(ctx, agentID, channelID) {
			return
		}
		if !w.controller.IsActive(agentID, channelID) {
			return
		}
		// Reflection seeded the next observation; advance into it.
		if _, err := w.controller.Advance(ctx, agentID, channelID, orpar.PhaseResult{}); err != nil {
			return
		}
	}
}

func (w *Worker) runOnce(ctx context.Context, agentID, channelID string) bool {
	log := w.logger.WithAgentID(agentID).WithChannelID(channelID)

	var actions []string
	success := true
	for _, phase := range []orparmodels.Phase{
		orparmodels.PhaseReasoning,
		orparmodels.PhasePlan,
		orparmodels.PhaseAct,
		orparmodels.PhaseReflection,
	} {
		content, err := w.runPhase(ctx, agentID, channelID, phase, actions)
		if err != nil {
			log.WithError(err).Warn("Phase dispatch failed; recording failure reflection",
				zap.String("phase", string(phase)))
			success = false
			content = fmt.Sprintf("cycle failed during %s: %v", phase, err)
			if phase != orparmodels.PhaseReflection {
				if _, advErr := w.controller.Advance(ctx, agentID, channelID, orpar.PhaseResult{Content: content}); advErr == nil {
					_ = w.controller.StopLoop(ctx, agentID, channelID, "dispatch failure")
				}
				return false
			}
		}
		if phase == orparmodels.PhaseAct && content != "" {
			actions = append(actions, content)
		}

		result := orpar.PhaseResult{Content: content}
		if phase == orparmodels.PhaseReflection {
			result.Success = &success
			result.EntityIDs = w.contextEntityIDs(ctx, channelID)
		}
		if _, err := w.controller.Advance(ctx, agentID, channelID, result); err != nil {
			log.WithError(err).Debug("Loop no longer advanceable", zap.String("phase", string(phase)))
			return false
		}

		w.remember(ctx, channelID, phase, content)
	}
	return true
}

// runPhase assembles the prompt for one phase and dispatches it. The act
// phase additionally resolves tool calls through the sandbox.
func (w *Worker) runPhase(ctx context.Context, agentID, channelID string, phase orparmodels.Phase, actions []string) (string, error) {
	agentCtx, err := w.buildContext(ctx, agentID, channelID, actions)
	if err != nil {
		return "", err
	}

	var graphCtx *contextasm.GraphContext
	if w.graph != nil {
		bundle, err := w.graph.GetGraphContext(ctx, channelID, "", nil)
		if err == nil {
			graphCtx = &contextasm.GraphContext{Bundle: bundle}
		}
	}

	messages := w.assembler.Assemble(*agentCtx, graphCtx)
	messages = append(messages, llm.TextMessage(llm.RoleUser, phaseInstructions[phase]))

	var tools []llm.Tool
	if phase == orparmodels.PhaseAct && w.executor != nil {
		tools = []llm.Tool{executeCodeTool}
	}

	resp, err := w.dispatcher.Send(ctx, "", messages, tools, w.opts)
	if err != nil {
		return "", err
	}

	content := resp.Text()
	if phase == orparmodels.PhaseAct {
		if results := w.runTools(ctx, agentID, channelID, resp.ToolUses()); results != "" {
			content = strings.TrimSpace(content + "\n" + results)
		}
	}
	return content, nil
}

func (w *Worker) buildContext(ctx context.Context, agentID, channelID string, actions []string) (*contextasm.AgentContext, error) {
	agent, err := w.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	history, err := w.memory.ChannelHistory(ctx, channelID, historyWindow)
	if err != nil {
		return nil, err
	}
	purpose := agent.Name
	if len(agent.ServiceTypes) > 0 {
		purpose = fmt.Sprintf("%s (%s)", agent.Name, strings.Join(agent.ServiceTypes, ", "))
	}
	return &contextasm.AgentContext{
		AgentID: agentID,
		AgentConfig: contextasm.AgentConfig{
			Purpose:      purpose,
			Capabilities: agent.Capabilities,
		},
		SystemPrompt:        systemPrompt,
		ConversationHistory: history,
		RecentActions:       actions,
	}, nil
}

// runTools executes sandbox tool calls and renders their outputs.
func (w *Worker) runTools(ctx context.Context, agentID, channelID string, uses []llm.ContentItem) string {
	var b strings.Builder
	for _, use := range uses {
		if use.Name != executeCodeTool.Name {
			continue
		}
		code, _ := use.Input["code"].(string)
		language, _ := use.Input["language"].(string)
		resp, err := w.executor.Execute(ctx, sandbox.Request{
			Code:     code,
			Language: language,
			Context: map[string]interface{}{
				"agentId":   agentID,
				"channelId": channelID,
				"requestId": use.ID,
			},
		})
		if err != nil {
			fmt.Fprintf(&b, "execute_code failed: %v\n", err)
			continue
		}
		fmt.Fprintf(&b, "execute_code output: %v\n", resp.Output)
	}
	return strings.TrimSpace(b.String())
}

// remember appends the phase output to channel memory tagged with its
// context layer so later assembly filters it correctly.
func (w *Worker) remember(ctx context.Context, channelID string, phase orparmodels.Phase, content string) {
	if content == "" {
		return
	}
	layer := memmodels.LayerConversation
	if phase == orparmodels.PhaseAct {
		layer = memmodels.LayerAction
	}
	_, err := w.memory.AppendChannelMessage(ctx, channelID, memmodels.Message{
		Role:     llm.RoleAssistant,
		Content:  content,
		Metadata: map[string]interface{}{"contextLayer": layer, "phase": string(phase)},
	})
	if err != nil {
		w.logger.WithChannelID(channelID).WithError(err).Warn("Failed to append phase output to memory")
	}
}

// contextEntityIDs attributes the cycle outcome to the channel's current
// context entities.
func (w *Worker) contextEntityIDs(ctx context.Context, channelID string) []string {
	if w.graph == nil {
		return nil
	}
	bundle, err := w.graph.GetGraphContext(ctx, channelID, "", nil)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(bundle.CentralEntities)+len(bundle.RelatedEntities))
	for _, entity := range bundle.CentralEntities {
		ids = append(ids, entity.GetID())
	}
	for _, entity := range bundle.RelatedEntities {
		ids = append(ids, entity.GetID())
	}
	return ids
}
