// Package auth holds the authorization rules for mutating operations. The
// actor and role always come from the trusted HTTP boundary (verified JWT or
// stored API key), never from client-supplied state.
package auth

import (
	"fmt"

	"ndjobi/internal/config"
	"ndjobi/internal/domain"
)

// ForbiddenError indicates the principal's role does not permit the action.
type ForbiddenError struct {
	Action string
	Role   string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

// Principal is an authenticated actor with the single platform role the
// trusted boundary asserted for it.
type Principal struct {
	ActorID string
	Role    string
	Source  string
}

// Service evaluates role-based rules from the static security config.
type Service struct {
	authority map[string]bool
	admin     map[string]bool
}

func New(cfg *config.Config) Service {
	s := Service{authority: map[string]bool{}, admin: map[string]bool{}}
	for _, r := range cfg.Security.AuthorityRoles {
		s.authority[r] = true
	}
	for _, r := range cfg.Security.AdminRoles {
		s.admin[r] = true
	}
	return s
}

// IsAdmin reports whether the role may act across all queues.
func (s Service) IsAdmin(role string) bool { return s.admin[role] }

// IsAuthority reports whether the role may record decisions.
func (s Service) IsAuthority(role string) bool { return s.authority[role] }

// RequireTransition checks that p may change the status of rep: the report
// must sit in p's own queue unless p holds an admin role.
func (s Service) RequireTransition(p Principal, rep domain.Report) error {
	if p.ActorID == "" {
		return ForbiddenError{Action: "transition", Role: p.Role}
	}
	if s.admin[p.Role] || p.Role == rep.AssignedRole {
		return nil
	}
	return ForbiddenError{Action: "transition report " + rep.Reference, Role: p.Role}
}

// RequireDecision checks that p may record an authoritative decision.
func (s Service) RequireDecision(p Principal) error {
	if p.ActorID != "" && s.authority[p.Role] {
		return nil
	}
	return ForbiddenError{Action: "record decision", Role: p.Role}
}

// RequireIntake checks that p may submit reports. Any authenticated actor
// may: citizens file signalements through the intake boundary.
func (s Service) RequireIntake(p Principal) error {
	if p.ActorID == "" {
		return ForbiddenError{Action: "submit report", Role: p.Role}
	}
	return nil
}

// RequireAssessment checks that p may attach AI scoring. Restricted to
// admin-level callers; the scoring pipeline authenticates with an API key
// bound to such a role.
func (s Service) RequireAssessment(p Principal) error {
	if p.ActorID != "" && s.admin[p.Role] {
		return nil
	}
	return ForbiddenError{Action: "attach assessment", Role: p.Role}
}
