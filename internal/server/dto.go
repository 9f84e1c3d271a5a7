package server

import (
	"ndjobi/internal/domain"
)

// Request payloads

type CreateReportRequest struct {
	Title       string `json:"title"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
	Priority    string `json:"priority,omitempty" enum:"critical,high,medium,low"`
}

type TransitionRequest struct {
	Status string `json:"status" enum:"pending,assigned,investigation,in_progress,resolved,closed"`
	// IfVersion asserts the caller's last-seen version; a stale value is
	// rejected with concurrent_modification instead of silently winning.
	IfVersion *int64 `json:"if_version,omitempty"`
}

type DecisionRequest struct {
	Kind       string `json:"kind" enum:"approve,investigate,reject"`
	Rationale  string `json:"rationale,omitempty"`
	DedupToken string `json:"dedup_token"`
}

type AssessmentRequest struct {
	PriorityScore    float64 `json:"priority_score" minimum:"0" maximum:"100"`
	CredibilityScore float64 `json:"credibility_score" minimum:"0" maximum:"100"`
	Summary          string  `json:"summary,omitempty"`
	Category         string  `json:"category,omitempty"`
}

// Response payloads

type ReportListResponse struct {
	Items []domain.Report `json:"items"`
}

type DecisionListResponse struct {
	Items []domain.Decision `json:"items"`
}

type RoleListResponse struct {
	Items []domain.AgentRole `json:"items"`
}

type EventListResponse struct {
	Items []domain.Event `json:"items"`
}

// ReferenceStatusResponse is the public tracker view: enough for a citizen
// to follow their signalement without exposing case contents.
type ReferenceStatusResponse struct {
	Reference  string  `json:"reference"`
	Status     string  `json:"status"`
	Type       string  `json:"type"`
	Priority   string  `json:"priority"`
	CreatedAt  string  `json:"created_at"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}
