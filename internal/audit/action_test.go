package audit

import "testing"

func TestClassifySkill(t *testing.T) {
	tests := []struct {
		skillKey string
		expected ActionClass
	}{
		// Workspace-only skills
		{"research-topic", ActionRead},
		{"draft-article", ActionRead},
		{"summarize-findings", ActionRead},
		{"review-draft", ActionRead},
		{"lookup-terminology", ActionRead},

		// External-effect skills
		{"publish-article", ActionWrite},
		{"post-update", ActionWrite},
		{"send-newsletter", ActionWrite},
		{"schedule-campaign", ActionWrite},
		{"provision-workspace", ActionWrite},

		// Removal skills
		{"unpublish-article", ActionDestructive},
		{"delete-listing", ActionDestructive},
		{"retract-offer", ActionDestructive},
		{"cancel-subscription", ActionDestructive},

		// Underscore convention classifies the same way
		{"publish_article", ActionWrite},
		{"research_topic", ActionRead},

		// Unknown
		{"frobnicate-widget", ActionUnknown},
		{"", ActionUnknown},
	}

	for _, tc := range tests {
		got := ClassifySkill(tc.skillKey)
		if got != tc.expected {
			t.Errorf("ClassifySkill(%q) = %q, want %q", tc.skillKey, got, tc.expected)
		}
	}
}

func TestClassifyEndpoint(t *testing.T) {
	tests := []struct {
		method   string
		path     string
		expected ActionClass
	}{
		{"GET", "/v1/skills", ActionRead},
		{"GET", "/v1/approvals", ActionRead},
		{"GET", "/v1/deliverables", ActionRead},
		{"POST", "/v1/audit/verify", ActionRead},
		{"POST", "/v1/skills", ActionWrite},
		{"POST", "/v1/goals", ActionWrite},
		{"POST", "/v1/subscriptions/sub_1/hire", ActionWrite},
		{"POST", "/v1/approvals/apr_1/decide", ActionWrite},
		{"POST", "/v1/precedent-seeds/seed_1/review", ActionWrite},
		{"PUT", "/v1/agent-type-definitions/atd_1", ActionWrite},
		{"POST", "/v1/approvals/apr_1/veto", ActionDestructive},
		{"POST", "/v1/approvals/apr_1/cancel", ActionDestructive},
		{"POST", "/v1/hired-agents/inst_1/interrupt", ActionDestructive},
	}

	for _, tc := range tests {
		got := ClassifyEndpoint(tc.method, tc.path)
		if got != tc.expected {
			t.Errorf("ClassifyEndpoint(%q, %q) = %q, want %q", tc.method, tc.path, got, tc.expected)
		}
	}
}

func TestActionClass_IsApprovalRequired(t *testing.T) {
	tests := []struct {
		ac       ActionClass
		expected bool
	}{
		{ActionRead, false},
		{ActionWrite, true},
		{ActionDestructive, true},
		{ActionUnknown, false},
	}

	for _, tc := range tests {
		got := tc.ac.IsApprovalRequired()
		if got != tc.expected {
			t.Errorf("%q.IsApprovalRequired() = %v, want %v", tc.ac, got, tc.expected)
		}
	}
}

func TestActionClass_RiskLevel(t *testing.T) {
	tests := []struct {
		ac       ActionClass
		expected int
	}{
		{ActionRead, 0},
		{ActionWrite, 1},
		{ActionDestructive, 2},
		{ActionUnknown, -1},
	}

	for _, tc := range tests {
		got := tc.ac.RiskLevel()
		if got != tc.expected {
			t.Errorf("%q.RiskLevel() = %d, want %d", tc.ac, got, tc.expected)
		}
	}

	// Verify ordering
	if ActionRead.RiskLevel() >= ActionWrite.RiskLevel() {
		t.Error("read should be lower risk than write")
	}
	if ActionWrite.RiskLevel() >= ActionDestructive.RiskLevel() {
		t.Error("write should be lower risk than destructive")
	}
}
