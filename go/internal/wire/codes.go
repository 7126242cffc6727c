package wire

// ErrorCode enumerates the protocol rejection codes the server may return.
type ErrorCode string

const (
	CodeTurnNotActive      ErrorCode = "turn_not_active"
	CodeTurnUnavailable    ErrorCode = "turn_unavailable"
	CodeTurnAdvanceFailed  ErrorCode = "turn_advance_failed"
	CodeActionRequired     ErrorCode = "turn_action_required"
	CodeActionInvalidPhase ErrorCode = "turn_action_invalid_phase"
	CodeActionInvalidScore ErrorCode = "turn_action_invalid_score"
	CodeActionBadPayload   ErrorCode = "turn_action_invalid_payload"
)

// Disposition says how the client reacts to a protocol rejection.
type Disposition int

const (
	// DispositionUnknown is returned for codes this client does not know.
	DispositionUnknown Disposition = iota
	// DispositionResync triggers a silent resync of authoritative state.
	DispositionResync
	// DispositionPrompt surfaces a user-facing correction prompt.
	DispositionPrompt
)

// DispositionFor maps a server error code to the client reaction.
func DispositionFor(code ErrorCode) Disposition {
	switch code {
	case CodeTurnNotActive, CodeTurnUnavailable, CodeTurnAdvanceFailed,
		CodeActionInvalidPhase, CodeActionBadPayload:
		return DispositionResync
	case CodeActionRequired, CodeActionInvalidScore:
		return DispositionPrompt
	}
	return DispositionUnknown
}
