package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"

	"govcore/internal/discovery"
)

// A2AToolAdapter dispatches Act-phase calls as A2A message/send JSON-RPC
// requests to a registered skill-executor agent, discovered by fetching
// .well-known/agent-card.json.
type A2AToolAdapter struct {
	// endpoints maps a skill key to the base URL of the agent that serves it.
	endpoints map[string]string

	mu      sync.Mutex
	clients map[string]*a2aclient.Client

	// seen tracks (correlationID, stepID) pairs already dispatched, so a
	// retried Invoke for the same key returns the cached result instead of
	// repeating the external effect.
	seen map[string]string
}

// NewA2AToolAdapter creates an adapter routing skill keys to agent base URLs.
func NewA2AToolAdapter(endpoints map[string]string) *A2AToolAdapter {
	return &A2AToolAdapter{
		endpoints: endpoints,
		clients:   make(map[string]*a2aclient.Client),
		seen:      make(map[string]string),
	}
}

// Invoke dispatches skillKey's input to its registered agent and returns
// the response text. Idempotent on (correlationID, stepID).
func (a *A2AToolAdapter) Invoke(ctx context.Context, ec ExecContext, skillKey, correlationID, stepID, input string) (string, error) {
	key := correlationID + "/" + stepID
	a.mu.Lock()
	if cached, ok := a.seen[key]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	baseURL, ok := a.endpoints[skillKey]
	if !ok {
		return "", fmt.Errorf("no agent registered for skill %q", skillKey)
	}

	client, err := a.clientFor(ctx, skillKey, baseURL)
	if err != nil {
		return "", fmt.Errorf("connecting to agent for skill %q: %w", skillKey, err)
	}

	// The correlation id rides in the message metadata so the executor's
	// own records stay joinable with this chain's audit trail.
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: input})
	msg.Metadata = map[string]any{"trace_id": correlationID, "step_id": stepID}
	result, err := client.SendMessage(ctx, &a2a.MessageSendParams{Message: msg})
	if err != nil {
		return "", fmt.Errorf("dispatching skill %q: %w", skillKey, err)
	}

	text := extractResponseText(result)

	a.mu.Lock()
	a.seen[key] = text
	a.mu.Unlock()

	return text, nil
}

// Compensate asks the skill's executor agent to reverse the effect it
// performed under (correlationID, stepID). On success the idempotency cache
// entry is dropped, so a deliberate re-run can perform the effect again.
func (a *A2AToolAdapter) Compensate(ctx context.Context, skillKey, correlationID, stepID string) (string, error) {
	baseURL, ok := a.endpoints[skillKey]
	if !ok {
		return "", fmt.Errorf("no agent registered for skill %q", skillKey)
	}
	client, err := a.clientFor(ctx, skillKey, baseURL)
	if err != nil {
		return "", fmt.Errorf("connecting to agent for skill %q: %w", skillKey, err)
	}

	msg := a2a.NewMessage(a2a.MessageRoleUser,
		a2a.TextPart{Text: "compensate " + correlationID + "/" + stepID})
	msg.Metadata = map[string]any{"trace_id": correlationID, "step_id": stepID}
	result, err := client.SendMessage(ctx, &a2a.MessageSendParams{Message: msg})
	if err != nil {
		return "", fmt.Errorf("compensating skill %q: %w", skillKey, err)
	}

	a.mu.Lock()
	delete(a.seen, correlationID+"/"+stepID)
	a.mu.Unlock()

	return extractResponseText(result), nil
}

func (a *A2AToolAdapter) clientFor(ctx context.Context, skillKey, baseURL string) (*a2aclient.Client, error) {
	a.mu.Lock()
	if c, ok := a.clients[skillKey]; ok {
		a.mu.Unlock()
		return c, nil
	}
	a.mu.Unlock()

	card, err := discovery.FetchCard(ctx, baseURL)
	if err != nil {
		return nil, err
	}

	client, err := a2aclient.NewFromCard(ctx, card)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.clients[skillKey] = client
	a.mu.Unlock()
	return client, nil
}

func extractResponseText(result a2a.SendMessageResult) string {
	switch v := result.(type) {
	case *a2a.Task:
		if v.Status.Message != nil {
			if t := partsToText(v.Status.Message.Parts); t != "" {
				return t
			}
		}
		for i := len(v.History) - 1; i >= 0; i-- {
			if v.History[i].Role == a2a.MessageRoleAgent {
				if t := partsToText(v.History[i].Parts); t != "" {
					return t
				}
			}
		}
		for _, artifact := range v.Artifacts {
			if t := partsToText(artifact.Parts); t != "" {
				return t
			}
		}
	case *a2a.Message:
		return partsToText(v.Parts)
	}
	return ""
}

func partsToText(parts a2a.ContentParts) string {
	var texts []string
	for _, p := range parts {
		if tp, ok := p.(a2a.TextPart); ok {
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, "\n")
}
