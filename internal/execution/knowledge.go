package execution

import (
	"context"
	"strings"

	"govcore/internal/precedent"
)

// constitutionalKeywords flags a query as asking about authority/approval
// wording rather than domain facts, routing it to the precedent store first.
var constitutionalKeywords = []string{"approve", "approval", "authority", "authorized", "policy", "permission", "may i", "allowed to"}

// PrecedentKnowledge implements KnowledgeLookup over approved precedent
// seeds and a domain adapter (typically an LLM-backed lookup). Queries are
// split into two classes only: constitutional (an authority/approval
// keyword is present) and everything else; there is no separate ambiguous
// class.
type PrecedentKnowledge struct {
	Seeds  *precedent.Store
	Domain KnowledgeLookup // e.g. a Thinker-backed adapter; may be nil
}

// Lookup classifies query. A constitutional query tries precedent first and
// falls back to the domain adapter on a miss; any other query goes straight
// to the domain adapter. With no domain adapter, every query is answered
// from precedent only.
func (k *PrecedentKnowledge) Lookup(ctx context.Context, ec ExecContext, query string) (string, bool, error) {
	if isConstitutional(query) || k.Domain == nil {
		if answer, ok, err := k.lookupPrecedent(ctx, query); err != nil {
			return "", false, err
		} else if ok {
			return answer, true, nil
		}
		if k.Domain == nil {
			return "", false, nil
		}
	}
	return k.Domain.Lookup(ctx, ec, query)
}

func isConstitutional(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range constitutionalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (k *PrecedentKnowledge) lookupPrecedent(ctx context.Context, query string) (string, bool, error) {
	seeds, err := k.Seeds.ListByStatus(ctx, precedent.SeedApproved)
	if err != nil {
		return "", false, err
	}
	lower := strings.ToLower(query)
	for _, s := range seeds {
		if strings.Contains(lower, strings.ToLower(s.Action)) {
			return s.Principle, true, nil
		}
	}
	return "", false, nil
}

// ThinkerKnowledge adapts a Thinker into a domain KnowledgeLookup, grounded
// on the same anthropic-sdk-go call used for the Think phase: a one-shot
// completion with no conversational history, for pure fact/terminology
// lookups rather than sub-action planning.
type ThinkerKnowledge struct {
	Thinker *Thinker
}

func (k *ThinkerKnowledge) Lookup(ctx context.Context, ec ExecContext, query string) (string, bool, error) {
	result, err := k.Thinker.Think(ctx, PlanStep{ID: "knowledge-lookup", SkillKey: query}, nil)
	if err != nil {
		return "", false, err
	}
	return result.Reasoning, result.Reasoning != "", nil
}
