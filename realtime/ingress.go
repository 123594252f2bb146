package realtime

import (
	"context"
	"log/slog"

	"campusride/core"
)

// Publisher is the bus surface used for client-originated messages.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// ParticipantLister is the participant view the ingress needs.
type ParticipantLister interface {
	Participant(ctx context.Context, roomID core.RoomID, email core.Email) (core.Participant, error)
	Participants(ctx context.Context, roomID core.RoomID) ([]core.Participant, error)
}

// ChatNotifier triggers the push pipeline for a delivered chat message.
type ChatNotifier interface {
	ChatMessage(ctx context.Context, roomID core.RoomID, sender core.Participant, body string, recipients []core.Participant)
}

// Ingress accepts client-originated room traffic from the gateway,
// stamps the connection principal, and forwards it onto the bus so every
// instance's registries can fan it out. Push triggers fire after the
// publish, isolated from the sending client.
type Ingress struct {
	bus      Publisher
	rooms    ParticipantLister
	notifier ChatNotifier
	logger   *slog.Logger
}

func NewIngress(bus Publisher, rooms ParticipantLister, notifier ChatNotifier, logger *slog.Logger) *Ingress {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{bus: bus, rooms: rooms, notifier: notifier, logger: logger}
}

// HandleChat publishes a room message. The sender must be a participant;
// the payload email is always the connection principal, never
// client-supplied.
func (i *Ingress) HandleChat(ctx context.Context, principal core.Email, msg core.ChatMessage) error {
	sender, err := i.rooms.Participant(ctx, msg.RoomID, principal)
	if err != nil {
		return core.ErrNotParticipant
	}
	msg.Email = principal
	if err := i.bus.Publish(ctx, core.ChannelChat, msg); err != nil {
		i.logger.Warn("chat publish failed", "room_id", msg.RoomID, "error", err)
		return nil
	}
	if i.notifier != nil {
		recipients, err := i.rooms.Participants(ctx, msg.RoomID)
		if err != nil {
			i.logger.Warn("recipient lookup failed", "room_id", msg.RoomID, "error", err)
			return nil
		}
		i.notifier.ChatMessage(ctx, msg.RoomID, sender, msg.Message, recipients)
	}
	return nil
}

// HandleMap relays a location payload without inspecting it.
func (i *Ingress) HandleMap(ctx context.Context, principal core.Email, update core.MapUpdate) error {
	if _, err := i.rooms.Participant(ctx, update.RoomID, principal); err != nil {
		return core.ErrNotParticipant
	}
	update.Email = principal
	if err := i.bus.Publish(ctx, core.ChannelMap, update); err != nil {
		i.logger.Warn("map publish failed", "room_id", update.RoomID, "error", err)
	}
	return nil
}
