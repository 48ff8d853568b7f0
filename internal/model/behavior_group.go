package model

import "github.com/google/uuid"

// GroupScope says who a behavior group applies to: one org, or every org of
// the bundle ("default"). Modeled as a closed pair of constructors instead
// of a nullable org id so the resolver's union logic cannot accidentally
// leak one tenant's groups into another's.
type GroupScope struct {
	orgID     string
	isDefault bool
}

// ScopedTo returns the scope covering a single org.
func ScopedTo(orgID string) GroupScope {
	return GroupScope{orgID: orgID}
}

// DefaultScope returns the scope covering all orgs of the bundle.
func DefaultScope() GroupScope {
	return GroupScope{isDefault: true}
}

// IsDefault reports whether the scope applies to all orgs.
func (s GroupScope) IsDefault() bool { return s.isDefault }

// OrgID returns the owning org and true, or "" and false for the default
// scope.
func (s GroupScope) OrgID() (string, bool) {
	if s.isDefault {
		return "", false
	}
	return s.orgID, true
}

// BehaviorGroup is a reusable set of delivery actions attachable to event
// types.
type BehaviorGroup struct {
	ID       uuid.UUID
	Scope    GroupScope
	BundleID uuid.UUID
	Name     string
}

// BehaviorGroupAction links a behavior group to an endpoint. Position only
// matters for the single-email-action rule enforced by the admin layer;
// delivery order is unspecified.
type BehaviorGroupAction struct {
	BehaviorGroupID uuid.UUID
	EndpointID      uuid.UUID
	Position        int
}
