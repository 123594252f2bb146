package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"campusride/bus"
	"campusride/core"
)

// Fanout binds the bus channel grammar to the local registries. The
// routing table is installed once, before the bus starts.
type Fanout struct {
	Topics *TopicRegistry
	SSE    *SSERegistry
	Logger *slog.Logger
}

// Bind installs handlers for every domain channel and pattern.
func (f *Fanout) Bind(b *bus.Bus) error {
	if f.Logger == nil {
		f.Logger = slog.Default()
	}
	steps := []error{
		b.Handle(core.ChannelChat, bus.DecodeChatMessage, f.onChat),
		b.Handle(core.ChannelMap, bus.DecodeMapUpdate, f.onMap),
		b.HandlePattern(core.PatternReady, bus.DecodeReadyNotice, f.onReady),
		b.HandlePattern(core.PatternParticipants, bus.DecodeParticipant, f.onParticipant),
		b.HandlePattern(core.PatternKick, bus.DecodeKickNotice, f.onKick),
		b.HandlePattern(core.PatternSSE, bus.DecodeSSEEnvelope, f.onSSE),
		b.HandlePattern(core.PatternRoomDeleted, bus.DecodeRoomDeleted, f.onRoomDeleted),
	}
	for _, err := range steps {
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *Fanout) onChat(_ context.Context, _ string, event any) {
	msg := event.(core.ChatMessage)
	f.broadcast(RoomTopic(msg.RoomID), msg)
}

func (f *Fanout) onMap(_ context.Context, _ string, event any) {
	update := event.(core.MapUpdate)
	f.broadcast(MapTopic(update.RoomID), update)
}

func (f *Fanout) onReady(_ context.Context, _ string, event any) {
	notice := event.(core.ReadyNotice)
	f.broadcast(ReadyTopic(notice.RoomID), notice)
}

func (f *Fanout) onParticipant(_ context.Context, _ string, event any) {
	p := event.(core.Participant)
	f.broadcast(ParticipantsTopic(p.RoomID), p)
}

func (f *Fanout) onKick(_ context.Context, _ string, event any) {
	notice := event.(core.KickNotice)
	payload, err := json.Marshal(notice)
	if err != nil {
		return
	}
	f.Topics.SendToUser(notice.TargetEmail, PersonalNotice, payload)
}

func (f *Fanout) onSSE(_ context.Context, channel string, event any) {
	env := event.(core.SSEEnvelope)
	roomID, ok := roomIDFromChannel(channel)
	if !ok {
		f.Logger.Warn("sse event on malformed channel", "channel", channel)
		return
	}
	f.SSE.Send(roomID, env)
}

func (f *Fanout) onRoomDeleted(_ context.Context, _ string, event any) {
	deleted := event.(core.RoomDeleted)
	f.SSE.CloseRoom(deleted.RoomID)
	f.broadcast(RoomTopic(deleted.RoomID), deleted)
}

func (f *Fanout) broadcast(destination string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		f.Logger.Warn("failed to encode fanout payload", "destination", destination, "error", err)
		return
	}
	f.Topics.Broadcast(destination, data)
}

// roomIDFromChannel parses the numeric suffix of a per-room channel such
// as "sse:42".
func roomIDFromChannel(channel string) (core.RoomID, bool) {
	idx := strings.LastIndexByte(channel, ':')
	if idx < 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(channel[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return core.RoomID(id), true
}
