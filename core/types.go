package core

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// RoomID uniquely identifies a ride room.
type RoomID int64

func (id RoomID) String() string { return strconv.FormatInt(int64(id), 10) }

// MemberID uniquely identifies a member in the carpool domain.
type MemberID int64

func (id MemberID) String() string { return strconv.FormatInt(int64(id), 10) }

// Email is the principal identity carried by auth tokens and connections.
type Email string

// RoomStatus enumerates the readiness lifecycle of a room.
type RoomStatus string

const (
	RoomWaiting     RoomStatus = "WAITING"
	RoomReadyLocked RoomStatus = "READY_LOCKED"
	RoomMatched     RoomStatus = "MATCHED"
)

// Room is a ride-matching chat session. It is persisted externally and
// mutated only through coordinator state-machine operations.
type Room struct {
	ID        RoomID     `json:"id" db:"id"`
	Title     string     `json:"title" db:"title"`
	Capacity  int        `json:"capacity" db:"capacity"`
	Status    RoomStatus `json:"status" db:"status"`
	HostID    MemberID   `json:"host_id" db:"host_id"`
	MatchedAt *time.Time `json:"matched_at,omitempty" db:"matched_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Participant ties a member to a room. Exactly one participant per room
// has IsHost set.
type Participant struct {
	RoomID   RoomID    `json:"room_id" db:"room_id"`
	MemberID MemberID  `json:"member_id" db:"member_id"`
	Email    Email     `json:"email" db:"email"`
	Nickname string    `json:"nickname" db:"nickname"`
	IsHost   bool      `json:"is_host" db:"is_host"`
	IsReady  bool      `json:"is_ready" db:"is_ready"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

// Member is the externally-owned identity record, consumed read-only.
type Member struct {
	ID       MemberID `json:"id" db:"id"`
	Email    Email    `json:"email" db:"email"`
	Nickname string   `json:"nickname" db:"nickname"`
}

// NormalizeEmail trims and lowercases principal emails.
func NormalizeEmail(e Email) (Email, error) {
	s := strings.TrimSpace(string(e))
	if s == "" {
		return "", errors.New("empty email")
	}
	return Email(strings.ToLower(s)), nil
}

// ReadyCount returns the number of participants that have confirmed
// readiness. The host counts once its ready flag is set by a
// ready-request.
func ReadyCount(participants []Participant) int {
	n := 0
	for _, p := range participants {
		if p.IsReady {
			n++
		}
	}
	return n
}
