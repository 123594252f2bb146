package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bus channel grammar. Exact channels carry fleet-wide streams; the
// per-room channels are published with a room suffix and subscribed by
// pattern.
const (
	ChannelChat = "chat"
	ChannelMap  = "map"

	PatternReady        = "ready:*"
	PatternParticipants = "participants:*"
	PatternKick         = "kick:*"
	PatternSSE          = "sse:*"
	PatternRoomDeleted  = "roomdeleted:*"
)

func ReadyChannel(id RoomID) string        { return fmt.Sprintf("ready:%d", id) }
func ParticipantsChannel(id RoomID) string { return fmt.Sprintf("participants:%d", id) }
func KickChannel(id RoomID) string         { return fmt.Sprintf("kick:%d", id) }
func SSEChannel(id RoomID) string          { return fmt.Sprintf("sse:%d", id) }
func RoomDeletedChannel(id RoomID) string  { return fmt.Sprintf("roomdeleted:%d", id) }

// ReadyNoticeType enumerates readiness notifications carried over the bus.
type ReadyNoticeType string

const (
	ReadyRequest ReadyNoticeType = "READY_REQUEST"
	ReadyAccept  ReadyNoticeType = "READY_ACCEPT"
	ReadyDeny    ReadyNoticeType = "READY_DENY"
)

// ReadyNotice is the readiness notification payload.
type ReadyNotice struct {
	Type        ReadyNoticeType `json:"type"`
	RoomID      RoomID          `json:"roomId"`
	SenderID    MemberID        `json:"senderId"`
	SenderEmail Email           `json:"senderEmail"`
	SenderName  string          `json:"senderName"`
	Content     string          `json:"content"`
	SentAt      time.Time       `json:"sentAt"`
}

// ChatMessage is a client-originated room message.
type ChatMessage struct {
	RoomID  RoomID `json:"roomId"`
	Email   Email  `json:"email"`
	Message string `json:"message"`
}

// MapUpdate relays location payloads opaquely; the core never inspects
// the payload body.
type MapUpdate struct {
	RoomID  RoomID          `json:"roomId"`
	Email   Email           `json:"email"`
	Payload json.RawMessage `json:"payload"`
}

// SSEDirection marks which side of the room an SSE event targets.
type SSEDirection string

const (
	DirectionHost   SSEDirection = "HOST"
	DirectionClient SSEDirection = "CLIENT"
)

// SSE event names mirrored onto the room's server-push stream.
const (
	SSEReadyRequest = "readyRequest"
	SSEReadyAccept  = "readyAccept"
	SSEReadyDeny    = "readyDeny"
	SSEMatched      = "matched"
	SSEReadyRevert  = "readyRevert"
)

// ReconcileResult announces how a ready check settled.
type ReconcileResult struct {
	RoomID    RoomID     `json:"roomId"`
	Status    RoomStatus `json:"status"`
	MatchedAt *time.Time `json:"matchedAt,omitempty"`
	Removed   int        `json:"removed"`
}

// SSEEnvelope is the server-push stream wire format.
type SSEEnvelope struct {
	EventName  string       `json:"eventName"`
	Data       string       `json:"data"`
	RoomID     string       `json:"roomId"`
	SenderName string       `json:"senderName"`
	Direction  SSEDirection `json:"direction"`
}

// KickNotice is delivered on a member's personal queue when they are
// removed from a room.
type KickNotice struct {
	RoomID      RoomID `json:"roomId"`
	TargetEmail Email  `json:"targetEmail"`
	Reason      string `json:"reason"`
}

// RoomDeleted announces room teardown so gateways can close streams.
type RoomDeleted struct {
	RoomID RoomID `json:"roomId"`
}

// NotificationType enumerates push notification triggers.
type NotificationType string

const (
	NotifyChatMessage  NotificationType = "CHAT_MESSAGE"
	NotifyReadyRequest NotificationType = "READY_REQUEST"
	NotifySystem       NotificationType = "SYSTEM_NOTIFICATION"
)

// NotificationEvent is one queued push trigger. EventID is unique per
// attempt; BusinessKey collapses semantically-identical triggers within
// their dedup window.
type NotificationEvent struct {
	EventID         string            `json:"eventId"`
	BusinessKey     string            `json:"businessKey"`
	Type            NotificationType  `json:"type"`
	TargetMemberIDs []MemberID        `json:"targetMemberIds"`
	Title           string            `json:"title"`
	Body            string            `json:"body"`
	Data            map[string]string `json:"data,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	RetryCount      int               `json:"retryCount"`
}
