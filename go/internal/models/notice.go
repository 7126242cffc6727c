package models

// NoticeKind classifies user-facing notices raised by the sync engine.
type NoticeKind string

const (
	NoticeNotSeated      NoticeKind = "not_seated"
	NoticeNotReady       NoticeKind = "not_ready"
	NoticeNotYourTurn    NoticeKind = "not_your_turn"
	NoticeWaitingReady   NoticeKind = "waiting_for_ready"
	NoticeWaitingSync    NoticeKind = "waiting_for_sync"
	NoticeOffline        NoticeKind = "offline"
	NoticeTimeoutSoon    NoticeKind = "turn_timeout_soon"
	NoticeAutoAdvanced   NoticeKind = "turn_auto_advanced"
	NoticeActionRequired NoticeKind = "action_required"
	NoticeScoreRejected  NoticeKind = "score_rejected"
	NoticeResyncFailed   NoticeKind = "resync_failed"
	NoticeSessionLost    NoticeKind = "session_lost"
)

// Notice is a user-facing message handed to the presentation layer. The
// engine never renders; it only explains.
type Notice struct {
	Kind    NoticeKind
	Text    string
	Subject string // participant the notice refers to, when any
}
