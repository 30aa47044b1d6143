package identity

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// Requirement is a single pure predicate inside a policy. Satisfied must not
// perform I/O; everything it needs has to be in the principal snapshot or the
// resource handed to Evaluate.
type Requirement interface {
	Satisfied(principal *Principal, resource any) bool
	Describe() string
}

// RoleRequirement passes when the principal carries at least one of the
// listed roles.
type RoleRequirement struct {
	Roles []string
}

// RoleIs builds a RoleRequirement from the given roles.
func RoleIs(roles ...string) RoleRequirement {
	return RoleRequirement{Roles: roles}
}

// Satisfied implements Requirement.
func (r RoleRequirement) Satisfied(principal *Principal, _ any) bool {
	if principal == nil {
		return false
	}
	for _, role := range r.Roles {
		if principal.HasRole(role) {
			return true
		}
	}
	return false
}

// Describe implements Requirement.
func (r RoleRequirement) Describe() string {
	return fmt.Sprintf("role in [%s]", strings.Join(r.Roles, ", "))
}

// ClaimRequirement passes when the principal carries a claim of the given
// type whose value is in Values. An empty Values slice only checks presence.
type ClaimRequirement struct {
	Type   string
	Values []string
}

// ClaimEquals builds a ClaimRequirement for the given type and values.
func ClaimEquals(claimType string, values ...string) ClaimRequirement {
	return ClaimRequirement{Type: claimType, Values: values}
}

// Satisfied implements Requirement.
func (c ClaimRequirement) Satisfied(principal *Principal, _ any) bool {
	if principal == nil {
		return false
	}
	if len(c.Values) == 0 {
		return principal.HasClaimType(c.Type)
	}
	for _, value := range c.Values {
		if principal.HasClaim(c.Type, value) {
			return true
		}
	}
	return false
}

// Describe implements Requirement.
func (c ClaimRequirement) Describe() string {
	if len(c.Values) == 0 {
		return fmt.Sprintf("claim %q present", NormalizeClaimType(c.Type))
	}
	return fmt.Sprintf("claim %q in [%s]", NormalizeClaimType(c.Type), strings.Join(c.Values, ", "))
}

// ResourceRequirementFunc wraps an arbitrary predicate over the principal and
// the resource under evaluation, e.g. ownership-or-admin checks.
type ResourceRequirementFunc struct {
	Name  string
	Check func(principal *Principal, resource any) bool
}

// ResourceCheck builds a named ResourceRequirementFunc.
func ResourceCheck(name string, check func(principal *Principal, resource any) bool) ResourceRequirementFunc {
	return ResourceRequirementFunc{Name: name, Check: check}
}

// Satisfied implements Requirement.
func (f ResourceRequirementFunc) Satisfied(principal *Principal, resource any) bool {
	if f.Check == nil {
		return false
	}
	return f.Check(principal, resource)
}

// Describe implements Requirement.
func (f ResourceRequirementFunc) Describe() string {
	if f.Name == "" {
		return "resource check"
	}
	return f.Name
}

// Policy is a named, ordered requirement list with AND semantics.
type Policy struct {
	Name         string
	Requirements []Requirement
}

// NewPolicy builds a policy from its requirements, kept in the given order.
func NewPolicy(name string, requirements ...Requirement) Policy {
	return Policy{Name: name, Requirements: requirements}
}

// Decision is the outcome of evaluating one policy against one principal.
type Decision struct {
	Allowed bool
	Policy  string
	// Reason explains a denial in human-readable form; empty when allowed.
	Reason string
	// FailedRequirement describes the first requirement that did not hold.
	FailedRequirement string
}

// Allow builds an allowing decision for the named policy.
func Allow(policy string) Decision {
	return Decision{Allowed: true, Policy: policy}
}

// Deny builds a denying decision naming the failed requirement.
func Deny(policy string, requirement Requirement) Decision {
	desc := requirement.Describe()
	return Decision{
		Allowed:           false,
		Policy:            policy,
		Reason:            fmt.Sprintf("requirement not met: %s", desc),
		FailedRequirement: desc,
	}
}

// PolicyRegistry holds named policies. Registration happens during startup;
// after that the registry is read-only and safe for unlimited concurrent
// lookups.
type PolicyRegistry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewPolicyRegistry builds a registry, optionally pre-seeded with policies.
func NewPolicyRegistry(policies ...Policy) (*PolicyRegistry, error) {
	r := &PolicyRegistry{policies: make(map[string]Policy, len(policies))}
	for _, policy := range policies {
		if err := r.Register(policy); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a policy. Registering an empty name or the same name twice
// is a configuration mistake and fails.
func (r *PolicyRegistry) Register(policy Policy) error {
	if policy.Name == "" {
		return goerrors.New("policy name is required", goerrors.CategoryValidation).
			WithTextCode(textCodeValidationFailed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.policies[policy.Name]; exists {
		return goerrors.New("policy already registered", goerrors.CategoryConflict).
			WithTextCode(textCodeDuplicatePolicy).
			WithMetadata(map[string]any{"policy": policy.Name})
	}
	r.policies[policy.Name] = policy
	return nil
}

// MustRegister is Register for static startup wiring; it panics on error.
func (r *PolicyRegistry) MustRegister(policy Policy) {
	if err := r.Register(policy); err != nil {
		panic(err)
	}
}

// Lookup finds a policy by name.
func (r *PolicyRegistry) Lookup(name string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	policy, ok := r.policies[name]
	return policy, ok
}

// PolicyNames lists registered policy names in sorted order.
func (r *PolicyRegistry) PolicyNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
