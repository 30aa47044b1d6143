package identity

import (
	"context"
)

// PolicyEvaluator evaluates registered policies with AND semantics.
// Requirements run in registration order and evaluation stops at the first
// one that does not hold.
type PolicyEvaluator struct {
	registry *PolicyRegistry
	logger   Logger
	provider LoggerProvider
}

// NewPolicyEvaluator builds an evaluator over the given registry.
func NewPolicyEvaluator(registry *PolicyRegistry) *PolicyEvaluator {
	provider, logger := ResolveLogger("identity.evaluator", nil, nil)
	return &PolicyEvaluator{
		registry: registry,
		logger:   logger,
		provider: provider,
	}
}

// WithLogger overrides the evaluator logger.
func (e *PolicyEvaluator) WithLogger(logger Logger) *PolicyEvaluator {
	e.provider, e.logger = ResolveLogger("identity.evaluator", e.provider, logger)
	return e
}

// WithLoggerProvider resolves the evaluator logger from a provider.
func (e *PolicyEvaluator) WithLoggerProvider(provider LoggerProvider) *PolicyEvaluator {
	e.provider, e.logger = ResolveLogger("identity.evaluator", provider, e.logger)
	return e
}

// Evaluate implements Evaluator. An unregistered policy name is a
// configuration error and returns ErrUnknownPolicy rather than a denial.
func (e *PolicyEvaluator) Evaluate(ctx context.Context, policyName string, principal *Principal, resource any) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	policy, ok := e.registry.Lookup(policyName)
	if !ok {
		return Decision{}, ErrUnknownPolicy.Clone().
			WithMetadata(map[string]any{"policy": policyName})
	}

	for _, requirement := range policy.Requirements {
		if !requirement.Satisfied(principal, resource) {
			decision := Deny(policy.Name, requirement)
			e.logger.Debug("policy denied",
				"policy", policy.Name,
				"requirement", decision.FailedRequirement,
				"subject", subjectForLog(principal),
			)
			PolicyDecisions.WithLabelValues(policy.Name, "deny").Inc()
			return decision, nil
		}
	}

	PolicyDecisions.WithLabelValues(policy.Name, "allow").Inc()
	return Allow(policy.Name), nil
}

func subjectForLog(principal *Principal) string {
	if principal == nil {
		return ""
	}
	return principal.SubjectID
}
