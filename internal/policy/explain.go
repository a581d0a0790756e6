package policy

import (
	"fmt"
	"strings"
)

// buildExplanation produces a human-readable explanation from a DecisionTrace.
// It is a pure function — no side effects, safe to call multiple times.
func buildExplanation(req Request, trace DecisionTrace) string {
	var b strings.Builder

	resourceDesc := req.Resource.Type + " " + req.Resource.Name
	if len(req.Resource.Tags) > 0 {
		resourceDesc += " (tags: " + strings.Join(req.Resource.Tags, ", ") + ")"
	}
	effLabel := effectLabel(trace.Decision.Effect)
	fmt.Fprintf(&b, "Access to %s for %s: %s\n", resourceDesc, req.Action, effLabel)

	if trace.DefaultApplied {
		fmt.Fprintf(&b, "\nNo layer's policies matched this resource — default effect is %s.\n", trace.Decision.Effect)
		if len(req.Resource.Tags) == 0 {
			b.WriteString("\nThis resource has no tags, so no tag-based policy can match it.\n")
			b.WriteString("Register it with one of the following tag sets to unlock a policy:\n\n")

			seen := make(map[string]bool)
			for _, lt := range trace.LayerTraces {
				for _, pt := range lt.PoliciesEvaluated {
					if pt.SkipReason != "resource_mismatch" {
						continue
					}
					for _, tags := range pt.RequiredTags {
						key := strings.Join(tags, ",")
						if !seen[key] {
							seen[key] = true
							fmt.Fprintf(&b, "  • tags: [%s]  → enables policy %q (%s)\n", strings.Join(tags, ", "), pt.PolicyName, lt.Layer)
						}
					}
				}
			}
			if len(seen) == 0 {
				b.WriteString("  (no tag-based policies are configured for this resource type)\n")
			}
		}
		return b.String()
	}

	for _, lt := range trace.LayerTraces {
		b.WriteString("\n")
		if lt.SkipReason != "" {
			fmt.Fprintf(&b, "Layer %s: skipped (%s)\n", lt.Layer, lt.SkipReason)
			continue
		}
		fmt.Fprintf(&b, "Layer %s: voted %s\n", lt.Layer, effectLabel(lt.LayerEffect))

		for _, pt := range lt.PoliciesEvaluated {
			if !pt.Matched {
				fmt.Fprintf(&b, "  Policy %q: skipped (%s)\n", pt.PolicyName, pt.SkipReason)
				continue
			}
			fmt.Fprintf(&b, "  Policy %q matched:\n", pt.PolicyName)
			for _, rt := range pt.Rules {
				actionStr := strings.Join(rt.Actions, "|")
				ruleLabel := fmt.Sprintf("%-28s", actionStr+" → "+rt.Effect)
				if !rt.Matched {
					fmt.Fprintf(&b, "    Rule %-2d  %s  skipped — %s\n", rt.Index, ruleLabel, rt.SkipReason)
					continue
				}
				fmt.Fprintf(&b, "    Rule %-2d  %s  matched\n", rt.Index, ruleLabel)
				for _, ct := range rt.Conditions {
					mark := "✓"
					if !ct.Passed {
						mark = "✗"
					}
					fmt.Fprintf(&b, "      %s %s: %s\n", mark, ct.Name, ct.Detail)
				}
			}
		}
	}

	fmt.Fprintf(&b, "\nWinning layer: %s (policy %q) — tightest effect wins across layers.\n", trace.Decision.Layer, trace.Decision.PolicyName)

	b.WriteString("\n")
	switch trace.Decision.Effect {
	case EffectDeny:
		if trace.Decision.Message != "" {
			fmt.Fprintf(&b, "Reason: %s", trace.Decision.Message)
		} else {
			b.WriteString("No further action is possible for this request.")
		}
	case EffectRequireApproval:
		b.WriteString("An approval request has been created. Use the approvals API to review pending requests.")
	case EffectAllow:
		b.WriteString("The request is permitted to proceed.")
	}

	return b.String()
}

func effectLabel(e Effect) string {
	switch e {
	case EffectRequireApproval:
		return "REQUIRES APPROVAL"
	case EffectDeny:
		return "DENIED"
	case EffectAllow:
		return "ALLOWED"
	default:
		return strings.ToUpper(string(e))
	}
}
