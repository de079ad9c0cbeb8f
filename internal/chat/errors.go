package chat

import "errors"

// Error categories for the messaging pipeline. Handlers classify failures
// with errors.Is and report them to the originating connection only; none
// of these is fatal to the process or to other connections.
var (
	// ErrValidation marks malformed or oversized input. Never persisted.
	ErrValidation = errors.New("validation failed")

	// ErrAuth marks operations attempted without a bound identity, or with
	// an identity the user directory does not recognize.
	ErrAuth = errors.New("not authorized")

	// ErrMembership marks operations by an authenticated user on a room
	// they are not a member of.
	ErrMembership = errors.New("not a room member")

	// ErrTransport marks store failures. The accept-or-duplicate operation
	// is atomic, so no partial state is committed; client retry with the
	// same clientMsgId is the recovery path.
	ErrTransport = errors.New("storage unavailable")
)
