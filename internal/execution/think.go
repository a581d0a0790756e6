package execution

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Thinker runs the pure-planning Think phase: given a step's input and the
// prior Observe results, it proposes sub-actions with no external effect.
// It calls Messages.New directly rather than going through a higher-level
// agent framework's LLM interface — a single bounded reasoning call per
// step doesn't need streaming or tool-call plumbing.
type Thinker struct {
	client    anthropic.Client
	modelName string
}

// NewThinker creates a Thinker bound to a specific Claude model.
func NewThinker(modelName, apiKey string) *Thinker {
	return &Thinker{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
	}
}

// Think proposes sub-actions for a step given its declared skill and the
// outcomes observed so far in the goal.
func (t *Thinker) Think(ctx context.Context, step PlanStep, observedSoFar []StepOutcome) (ThinkResult, error) {
	var history strings.Builder
	for _, o := range observedSoFar {
		fmt.Fprintf(&history, "step %s: succeeded=%v output=%s\n", o.StepID, o.Succeeded, o.Output)
	}

	prompt := fmt.Sprintf(
		"You are planning sub-actions for skill %q (step %s).\nPrior observations:\n%s\nPropose the next sub-action in one sentence.",
		step.SkillKey, step.ID, history.String(),
	)

	msg, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(t.modelName),
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return ThinkResult{}, fmt.Errorf("think phase: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return ThinkResult{
		ProposedActions: []string{text.String()},
		Reasoning:       text.String(),
	}, nil
}
