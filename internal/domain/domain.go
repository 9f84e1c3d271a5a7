package domain

// Status is the closed set of report lifecycle states.
type Status string

const (
	StatusPending       Status = "pending"
	StatusAssigned      Status = "assigned"
	StatusInvestigation Status = "investigation"
	StatusInProgress    Status = "in_progress"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// Statuses lists every known status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusAssigned, StatusInvestigation, StatusInProgress, StatusResolved, StatusClosed}
}

// Terminal reports whether s permits no further transition.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Known reports whether s is one of the defined statuses.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusInvestigation, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Priority of a report, set at intake or by external AI scoring.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) Known() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// DecisionKind is an authoritative disposition of a sensitive case.
type DecisionKind string

const (
	DecisionApprove     DecisionKind = "approve"
	DecisionInvestigate DecisionKind = "investigate"
	DecisionReject      DecisionKind = "reject"
)

func (k DecisionKind) Known() bool {
	switch k {
	case DecisionApprove, DecisionInvestigate, DecisionReject:
		return true
	}
	return false
}

// ImpliedStatus is the status a decision kind drives a report to.
func (k DecisionKind) ImpliedStatus() Status {
	switch k {
	case DecisionApprove:
		return StatusResolved
	case DecisionInvestigate:
		return StatusInvestigation
	case DecisionReject:
		return StatusClosed
	}
	return ""
}

// Report is a citizen-submitted signalement, routed to a specialized agent queue.
type Report struct {
	ID           string        `json:"id"`
	Reference    string        `json:"reference"`
	Title        string        `json:"title"`
	Type         string        `json:"type"`
	Status       Status        `json:"status" enum:"pending,assigned,investigation,in_progress,resolved,closed"`
	Priority     Priority      `json:"priority" enum:"critical,high,medium,low"`
	Location     string        `json:"location,omitempty"`
	Description  string        `json:"description"`
	AssignedRole string        `json:"assigned_role"`
	SubmittedBy  string        `json:"submitted_by"`
	Assessment   *AIAssessment `json:"assessment,omitempty"`
	Version      int64         `json:"version"`
	CreatedAt    string        `json:"created_at" format:"date-time"`
	UpdatedAt    string        `json:"updated_at" format:"date-time"`
	ResolvedAt   *string       `json:"resolved_at,omitempty" format:"date-time"`
}

// SensitiveScoreThreshold marks a report sensitive once its AI priority score
// reaches it, in addition to the critical-priority rule.
const SensitiveScoreThreshold = 85

// Sensitive reports require a recorded decision before reaching a terminal status.
func (r Report) Sensitive() bool {
	if r.Priority == PriorityCritical {
		return true
	}
	return r.Assessment != nil && r.Assessment.PriorityScore >= SensitiveScoreThreshold
}

// AIAssessment is the externally computed score attached to a report.
// The engine merges it as-is and never produces one.
type AIAssessment struct {
	PriorityScore    float64 `json:"priority_score" minimum:"0" maximum:"100"`
	CredibilityScore float64 `json:"credibility_score" minimum:"0" maximum:"100"`
	Summary          string  `json:"summary,omitempty"`
	Category         string  `json:"category,omitempty"`
}

// Decision is an immutable ledger entry recording an authoritative disposition.
type Decision struct {
	ID         string       `json:"id"`
	ReportID   string       `json:"report_id"`
	Kind       DecisionKind `json:"kind" enum:"approve,investigate,reject"`
	DecidedBy  string       `json:"decided_by"`
	DecidedAt  string       `json:"decided_at" format:"date-time"`
	Rationale  string       `json:"rationale,omitempty"`
	DedupToken string       `json:"dedup_token"`
}

// AgentRole is a fixed specialized queue receiving reports of certain types.
type AgentRole struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Types       []string `json:"types"`
	Rank        int      `json:"rank"`
}

// AcceptsType reports whether the role's queue receives reports of typ.
func (r AgentRole) AcceptsType(typ string) bool {
	for _, t := range r.Types {
		if t == typ {
			return true
		}
	}
	return false
}

// StatsSnapshot is the per-role dashboard aggregate, recomputed on every read.
type StatsSnapshot struct {
	Role        string         `json:"role"`
	Total       int            `json:"total"`
	Pending     int            `json:"pending"`
	InProgress  int            `json:"in_progress"`
	Resolved    int            `json:"resolved"`
	SuccessRate float64        `json:"success_rate"`
	ThisMonth   int            `json:"this_month"`
	LastMonth   int            `json:"last_month"`
	ByType      map[string]int `json:"by_type"`
}

// Event is an append-only ledger entry describing a mutation.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	ReportID string `json:"report_id,omitempty"`
	Role     string `json:"role,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload_json"`
}

// APIKey authenticates machine callers at the HTTP boundary.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
