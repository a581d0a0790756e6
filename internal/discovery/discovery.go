// Package discovery provides agent card fetching and parsing for A2A agents.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
)

// Agent holds the discovered agent metadata.
type Agent struct {
	Name      string
	InvokeURL string
	Card      *a2a.AgentCard
}

// Discover fetches agent cards from a list of base URLs and returns
// a map keyed by agent name. Agents that cannot be reached are logged
// and skipped. Each agent's invoke URL is the base URL it was discovered
// at plus "/invoke"; it replaces the card's self-reported URL, in both
// Agent.InvokeURL and Card.URL.
func Discover(baseURLs []string) (map[string]*Agent, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	agents := make(map[string]*Agent)

	for _, baseURL := range baseURLs {
		cardURL := strings.TrimSuffix(baseURL, "/") + "/.well-known/agent-card.json"
		slog.Info("discovering agent", "url", cardURL)

		resp, err := client.Get(cardURL)
		if err != nil {
			slog.Warn("discovery: failed to fetch agent card", "url", cardURL, "err", err)
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			slog.Warn("discovery: non-200 status", "url", cardURL, "status", resp.StatusCode)
			continue
		}

		var card a2a.AgentCard
		if err := json.Unmarshal(body, &card); err != nil {
			slog.Warn("discovery: failed to parse agent card", "url", cardURL, "err", err)
			continue
		}

		invokeURL := strings.TrimSuffix(baseURL, "/") + "/invoke"
		card.URL = invokeURL
		agents[card.Name] = &Agent{
			Name:      card.Name,
			InvokeURL: invokeURL,
			Card:      &card,
		}
		slog.Info("discovered agent", "name", card.Name, "invoke_url", invokeURL)
	}

	if len(agents) == 0 {
		return nil, fmt.Errorf("no agents discovered from %d URLs", len(baseURLs))
	}
	return agents, nil
}

// FetchCard fetches and parses a single agent's card, context-bound, for
// callers that already know the target (e.g. the execution engine's
// per-skill tool adapter) rather than discovering a fleet up front.
func FetchCard(ctx context.Context, baseURL string) (*a2a.AgentCard, error) {
	cardURL := strings.TrimSuffix(baseURL, "/") + "/.well-known/agent-card.json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, cardURL)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var card a2a.AgentCard
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, err
	}
	return &card, nil
}
