package symbol

import "errors"

// Error kinds. None of them is fatal: every component that can produce one
// also defines the fallback value served instead.
var (
	// ErrCaptureFailed: a snapshot could not be built; the default symbol is used.
	ErrCaptureFailed = errors.New("symbol: capture failed")
	// ErrGenerationFailed: a worker could not render; the entry is marked failed.
	ErrGenerationFailed = errors.New("symbol: generation failed")
	// ErrVerificationTimeout: an owner was forced stable after its probe kept failing.
	ErrVerificationTimeout = errors.New("symbol: verification timeout")
	// ErrPipelineLevelFailed: one render level failed; the next one is attempted.
	ErrPipelineLevelFailed = errors.New("symbol: pipeline level failed")

	ErrMalformedSnapshot = errors.New("symbol: malformed snapshot")
	ErrNoSnapshot        = errors.New("symbol: no snapshot for key")
	ErrOwnerRemoved      = errors.New("symbol: owner removed")
	ErrClosed            = errors.New("symbol: closed")
)
