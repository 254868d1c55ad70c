// Package generation defines the contract with the upstream generation
// gateway: submit a job, poll its status by the opaque id the gateway
// returned, and read the account's remaining credit balance. The gateway
// guarantees that a job id stays queryable indefinitely and that terminal
// states never revert.
package generation

import "context"

// State is the gateway-reported lifecycle state of a submitted job.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// SubmitRequest carries the engine-specific payload for one generation.
type SubmitRequest struct {
	Engine          string
	Prompt          string
	DurationSeconds int
	Resolution      string
	WithAudio       bool
	StartFrameRef   string
	EndFrameRef     string
	ImageRefs       []string
	VideoRef        string
}

// Status is the normalized answer to a status query.
type Status struct {
	State         State
	ResultURL     string
	Metadata      map[string]string
	FailureReason string
}

// Client is the outbound collaborator surface the dispatch core depends on.
// Every call carries the credential secret of the account to act as.
type Client interface {
	SubmitGeneration(ctx context.Context, secret string, req SubmitRequest) (string, error)
	QueryStatus(ctx context.Context, secret, providerJobID string) (Status, error)
	QueryAccountBalance(ctx context.Context, secret string) (int, error)
	FetchAsset(ctx context.Context, url string) ([]byte, error)
}
