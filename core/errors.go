package core

// ErrorKind classifies coordination-layer failures. Fan-out and push
// failures are never surfaced through these; they are logged and
// isolated from the triggering request.
type ErrorKind int

const (
	KindAuthentication ErrorKind = iota
	KindAuthorization
	KindStateConflict
	KindNotFound
)

// Error is a typed coordination error surfaced synchronously to the
// caller of the triggering operation.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrRoomNotFound        = &Error{KindNotFound, "room not found"}
	ErrMemberNotFound      = &Error{KindNotFound, "member not found"}
	ErrParticipantNotFound = &Error{KindNotFound, "participant not found"}

	ErrNotHost            = &Error{KindAuthorization, "caller is not the room host"}
	ErrCallerIsHost       = &Error{KindAuthorization, "host cannot answer its own ready request"}
	ErrRoomNotWaiting     = &Error{KindStateConflict, "room is not in WAITING state"}
	ErrRoomNotReadyLocked = &Error{KindStateConflict, "room is not in READY_LOCKED state"}
	ErrAlreadyReady       = &Error{KindStateConflict, "participant already confirmed ready"}

	ErrUnauthenticated = &Error{KindAuthentication, "missing or invalid credentials"}
	ErrNotParticipant  = &Error{KindAuthorization, "principal is not a participant of the room"}
	ErrBadDestination  = &Error{KindAuthorization, "destination is not subscribable"}
)

// KindOf extracts the error kind, defaulting to KindStateConflict for
// untyped errors so callers fail closed.
func KindOf(err error) ErrorKind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindStateConflict
}
