package orchestration

import "errors"

var (
	ErrNoEligibleAgents = errors.New("no eligible agents")
	ErrBelowThreshold   = errors.New("best agent scored below threshold")
	ErrDependencyCycle  = errors.New("dependency cycle")
	ErrInvalidRequest   = errors.New("invalid request")
)
