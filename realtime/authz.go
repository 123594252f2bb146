// Package realtime holds the per-instance delivery registries: topic
// subscriptions for the bidirectional gateway and SSE emitter lists. All
// state here is in-memory and disposable; reconnection rebuilds it, and
// the bus is what makes an event reach whichever instance currently holds
// the relevant connection.
package realtime

import (
	"context"
	"fmt"
	"strings"

	"campusride/core"
)

// Destination prefixes. Personal-queue destinations are scoped to the
// connection principal by the registry itself; shared topics require a
// participant check against the room encoded in the destination.
const (
	TopicPrefix = "/topic/"
	QueuePrefix = "/queue/"

	// PersonalNotice carries kick and host-only notices.
	PersonalNotice = "/queue/notice"
)

func RoomTopic(id core.RoomID) string         { return fmt.Sprintf("/topic/room/%d", id) }
func ReadyTopic(id core.RoomID) string        { return fmt.Sprintf("/topic/ready/%d", id) }
func ParticipantsTopic(id core.RoomID) string { return fmt.Sprintf("/topic/participants/%d", id) }
func MapTopic(id core.RoomID) string          { return fmt.Sprintf("/topic/map/%d", id) }

// ParticipantChecker is the narrow view of the participant store the
// gateway needs for authorization.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, roomID core.RoomID, email core.Email) (bool, error)
}

// Authorizer decides whether a principal may subscribe to a destination.
type Authorizer struct {
	participants ParticipantChecker
}

func NewAuthorizer(participants ParticipantChecker) *Authorizer {
	return &Authorizer{participants: participants}
}

// AuthorizeSubscribe applies the subscription rules: personal-queue
// destinations are allowed unconditionally, every other destination must
// be a shared topic encoding a room the principal participates in.
func (a *Authorizer) AuthorizeSubscribe(ctx context.Context, principal core.Email, destination string) error {
	if strings.HasPrefix(destination, QueuePrefix) {
		return nil
	}
	if !strings.HasPrefix(destination, TopicPrefix) {
		return core.ErrBadDestination
	}
	roomID, ok := RoomIDFromDestination(destination)
	if !ok {
		return core.ErrBadDestination
	}
	member, err := a.participants.IsParticipant(ctx, roomID, principal)
	if err != nil {
		return fmt.Errorf("participant lookup for room %d: %w", roomID, err)
	}
	if !member {
		return core.ErrNotParticipant
	}
	return nil
}

// RoomIDFromDestination extracts the room id from a destination path by
// scanning segments from the end for the last all-digit segment.
func RoomIDFromDestination(destination string) (core.RoomID, bool) {
	segments := strings.Split(destination, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if id, ok := allDigits(segments[i]); ok {
			return id, true
		}
	}
	return 0, false
}

func allDigits(s string) (core.RoomID, bool) {
	if s == "" {
		return 0, false
	}
	var id int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		id = id*10 + int64(r-'0')
	}
	return core.RoomID(id), true
}
