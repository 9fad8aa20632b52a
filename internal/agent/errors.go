package agent

import "errors"

var (
	// ErrEmptyResult is returned when a generator produced no usable actions.
	ErrEmptyResult = errors.New("agent produced no actions")
	// ErrParse wraps model output that could not be turned into actions.
	ErrParse = errors.New("could not parse model output into actions")
	// ErrNoClient is returned by the LLM agent when no provider is configured.
	ErrNoClient = errors.New("no LLM client configured")
	// ErrNoCandidates is returned by the ensemble when every member failed.
	ErrNoCandidates = errors.New("no ensemble candidate succeeded")
)
