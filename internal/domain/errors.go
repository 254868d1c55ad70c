package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrUnknownEngine         = errors.New("unknown engine")
	ErrUnsupportedDuration   = errors.New("unsupported duration")
	ErrInvalidParams         = errors.New("invalid parameter combination")
	ErrNoCredentialAvailable = errors.New("no credential available")
	ErrProviderSubmission    = errors.New("provider submission failed")
	ErrSourceNotReady        = errors.New("source job not ready")
	ErrNoExtractableFrame    = errors.New("no extractable frame reference")
	ErrJobNotTerminal        = errors.New("job not in a terminal state")
)
