// Package coordinator owns the room readiness state machine:
// WAITING -> READY_LOCKED -> MATCHED, with READY_LOCKED -> WAITING as the
// mismatch-rollback edge. MATCHED does not transition back.
package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"campusride/core"
)

// ReconcileDelay is the window participants get to answer a ready
// request. The snapshot TTL (15s) outlives it on purpose: the snapshot is
// only a point-in-time witness, and its absence at reconciliation reads
// as "cannot confirm quorum".
const ReconcileDelay = 10 * time.Second

// RoomStore is the narrow interface onto the external relational store.
type RoomStore interface {
	Room(ctx context.Context, id core.RoomID) (core.Room, error)
	SaveRoom(ctx context.Context, room core.Room) error
	Participants(ctx context.Context, roomID core.RoomID) ([]core.Participant, error)
	Participant(ctx context.Context, roomID core.RoomID, email core.Email) (core.Participant, error)
	SaveParticipant(ctx context.Context, p core.Participant) error
	RemoveParticipant(ctx context.Context, roomID core.RoomID, memberID core.MemberID) error
}

// SnapshotStore is the ephemeral ready-snapshot view of the shared store.
type SnapshotStore interface {
	PutReadySnapshot(ctx context.Context, roomID core.RoomID, count int) error
	ReadySnapshot(ctx context.Context, roomID core.RoomID) (count int, present bool, err error)
	DeleteReadySnapshot(ctx context.Context, roomID core.RoomID) error
}

// ActiveStore tracks which members currently view a room.
type ActiveStore interface {
	MarkActive(ctx context.Context, roomID core.RoomID, memberID core.MemberID) error
	ClearActive(ctx context.Context, roomID core.RoomID, memberID core.MemberID) error
}

// Publisher is the bus surface the coordinator publishes on. Publish
// failures are transient delivery errors: logged, never surfaced to the
// triggering caller.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Notifier is the push-trigger hook, fired after the state mutation
// commits. Implementations must not block on delivery.
type Notifier interface {
	ReadyRequested(ctx context.Context, room core.Room, host core.Participant, targets []core.Participant)
}

// Coordinator mutates room state exclusively through the state-machine
// operations below.
type Coordinator struct {
	rooms     RoomStore
	snapshots SnapshotStore
	active    ActiveStore
	bus       Publisher
	timers    *ReconcileTimers
	notifier  Notifier
	logger    *slog.Logger

	reconcileDelay time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier attaches the push-trigger hook.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithReconcileDelay overrides the reconciliation delay (tests).
func WithReconcileDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.reconcileDelay = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func New(rooms RoomStore, snapshots SnapshotStore, active ActiveStore, bus Publisher, timers *ReconcileTimers, opts ...Option) *Coordinator {
	if rooms == nil || snapshots == nil || bus == nil || timers == nil {
		panic("coordinator.New requires non-nil rooms, snapshots, bus, and timers")
	}
	c := &Coordinator{
		rooms:          rooms,
		snapshots:      snapshots,
		active:         active,
		bus:            bus,
		timers:         timers,
		logger:         slog.Default(),
		reconcileDelay: ReconcileDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestReady locks a WAITING room for readiness confirmation. Only the
// host may call it. It snapshots the participant count, marks the host
// ready, notifies every participant, and arms the reconciliation timer.
func (c *Coordinator) RequestReady(ctx context.Context, roomID core.RoomID, callerEmail core.Email) error {
	room, err := c.rooms.Room(ctx, roomID)
	if err != nil {
		return err
	}
	caller, err := c.rooms.Participant(ctx, roomID, callerEmail)
	if err != nil || !caller.IsHost {
		return core.ErrNotHost
	}
	if room.Status != core.RoomWaiting {
		return core.ErrRoomNotWaiting
	}

	participants, err := c.rooms.Participants(ctx, roomID)
	if err != nil {
		return err
	}

	caller.IsReady = true
	if err := c.rooms.SaveParticipant(ctx, caller); err != nil {
		return err
	}
	if err := c.snapshots.PutReadySnapshot(ctx, roomID, len(participants)); err != nil {
		return err
	}
	room.Status = core.RoomReadyLocked
	if err := c.rooms.SaveRoom(ctx, room); err != nil {
		return err
	}

	notice := core.ReadyNotice{
		Type:        core.ReadyRequest,
		RoomID:      roomID,
		SenderID:    caller.MemberID,
		SenderEmail: caller.Email,
		SenderName:  caller.Nickname,
		Content:     "ready check started",
		SentAt:      time.Now().UTC(),
	}
	c.publish(ctx, core.ReadyChannel(roomID), notice)
	c.publishSSE(ctx, roomID, core.SSEReadyRequest, caller.Nickname, core.DirectionClient, notice)

	if c.notifier != nil {
		targets := make([]core.Participant, 0, len(participants))
		for _, p := range participants {
			if !p.IsHost {
				targets = append(targets, p)
			}
		}
		c.notifier.ReadyRequested(ctx, room, caller, targets)
	}

	c.timers.Schedule(roomID, c.reconcileDelay, func() {
		if err := c.Reconcile(context.Background(), roomID); err != nil {
			c.logger.Error("reconciliation failed", "room_id", roomID, "error", err)
		}
	})
	return nil
}

// AcceptReady records a non-host participant's confirmation and notifies
// the room's ready topic, which the host subscribes to.
func (c *Coordinator) AcceptReady(ctx context.Context, roomID core.RoomID, callerEmail core.Email) error {
	caller, err := c.answerPreconditions(ctx, roomID, callerEmail)
	if err != nil {
		return err
	}
	caller.IsReady = true
	if err := c.rooms.SaveParticipant(ctx, caller); err != nil {
		return err
	}
	notice := core.ReadyNotice{
		Type:        core.ReadyAccept,
		RoomID:      roomID,
		SenderID:    caller.MemberID,
		SenderEmail: caller.Email,
		SenderName:  caller.Nickname,
		SentAt:      time.Now().UTC(),
	}
	c.publish(ctx, core.ReadyChannel(roomID), notice)
	c.publishSSE(ctx, roomID, core.SSEReadyAccept, caller.Nickname, core.DirectionHost, notice)
	return nil
}

// RejectReady declines the ready request and removes the caller from the
// room.
func (c *Coordinator) RejectReady(ctx context.Context, roomID core.RoomID, callerEmail core.Email) error {
	caller, err := c.answerPreconditions(ctx, roomID, callerEmail)
	if err != nil {
		return err
	}
	notice := core.ReadyNotice{
		Type:        core.ReadyDeny,
		RoomID:      roomID,
		SenderID:    caller.MemberID,
		SenderEmail: caller.Email,
		SenderName:  caller.Nickname,
		SentAt:      time.Now().UTC(),
	}
	c.publish(ctx, core.ReadyChannel(roomID), notice)
	c.publishSSE(ctx, roomID, core.SSEReadyDeny, caller.Nickname, core.DirectionHost, notice)
	if err := c.rooms.RemoveParticipant(ctx, roomID, caller.MemberID); err != nil {
		return err
	}
	c.publish(ctx, core.ParticipantsChannel(roomID), caller)
	return nil
}

func (c *Coordinator) answerPreconditions(ctx context.Context, roomID core.RoomID, callerEmail core.Email) (core.Participant, error) {
	room, err := c.rooms.Room(ctx, roomID)
	if err != nil {
		return core.Participant{}, err
	}
	if room.Status != core.RoomReadyLocked {
		return core.Participant{}, core.ErrRoomNotReadyLocked
	}
	caller, err := c.rooms.Participant(ctx, roomID, callerEmail)
	if err != nil {
		return core.Participant{}, err
	}
	if caller.IsHost {
		return core.Participant{}, core.ErrCallerIsHost
	}
	if caller.IsReady {
		return core.Participant{}, core.ErrAlreadyReady
	}
	return caller, nil
}

// Reconcile settles a ready-locked room against its snapshot. It is safe
// under at-least-once invocation: the status guard makes repeats no-ops.
// When the recorded count matches the current ready count the room
// becomes MATCHED (matchedAt set once); on mismatch or a missing snapshot
// the room reverts to WAITING, non-ready non-host participants are
// removed, and remaining non-host ready flags reset.
func (c *Coordinator) Reconcile(ctx context.Context, roomID core.RoomID) error {
	room, err := c.rooms.Room(ctx, roomID)
	if err != nil {
		if err == core.ErrRoomNotFound {
			return nil
		}
		return err
	}
	if room.Status != core.RoomReadyLocked {
		return nil
	}
	defer func() {
		if err := c.snapshots.DeleteReadySnapshot(context.Background(), roomID); err != nil {
			c.logger.Warn("failed to delete ready snapshot", "room_id", roomID, "error", err)
		}
	}()

	snapshotCount, present, err := c.snapshots.ReadySnapshot(ctx, roomID)
	if err != nil {
		return err
	}
	participants, err := c.rooms.Participants(ctx, roomID)
	if err != nil {
		return err
	}

	// A last-moment accept after this read can be undercounted; that
	// narrow race is accepted, the participant simply re-confirms in the
	// next round.
	if present && snapshotCount == core.ReadyCount(participants) {
		if room.MatchedAt == nil {
			now := time.Now().UTC()
			room.MatchedAt = &now
		}
		room.Status = core.RoomMatched
		if err := c.rooms.SaveRoom(ctx, room); err != nil {
			return err
		}
		c.publishSSE(ctx, roomID, core.SSEMatched, "", core.DirectionClient, core.ReconcileResult{
			RoomID:    roomID,
			Status:    core.RoomMatched,
			MatchedAt: room.MatchedAt,
		})
		c.logger.Info("room matched", "room_id", roomID, "participants", len(participants))
		return nil
	}

	removed := 0
	for _, p := range participants {
		if p.IsHost {
			continue
		}
		if !p.IsReady {
			if err := c.rooms.RemoveParticipant(ctx, roomID, p.MemberID); err != nil {
				return err
			}
			c.publish(ctx, core.ParticipantsChannel(roomID), p)
			removed++
			continue
		}
		p.IsReady = false
		if err := c.rooms.SaveParticipant(ctx, p); err != nil {
			return err
		}
	}
	room.Status = core.RoomWaiting
	if err := c.rooms.SaveRoom(ctx, room); err != nil {
		return err
	}
	c.publishSSE(ctx, roomID, core.SSEReadyRevert, "", core.DirectionClient, core.ReconcileResult{
		RoomID:  roomID,
		Status:  core.RoomWaiting,
		Removed: removed,
	})
	c.logger.Info("ready check reverted", "room_id", roomID,
		"snapshot_present", present, "snapshot_count", snapshotCount)
	return nil
}

// Kick removes a participant at the host's request and delivers a notice
// on the target's personal queue via the bus.
func (c *Coordinator) Kick(ctx context.Context, roomID core.RoomID, hostEmail, targetEmail core.Email) error {
	caller, err := c.rooms.Participant(ctx, roomID, hostEmail)
	if err != nil || !caller.IsHost {
		return core.ErrNotHost
	}
	target, err := c.rooms.Participant(ctx, roomID, targetEmail)
	if err != nil {
		return err
	}
	if err := c.rooms.RemoveParticipant(ctx, roomID, target.MemberID); err != nil {
		return err
	}
	c.publish(ctx, core.KickChannel(roomID), core.KickNotice{
		RoomID:      roomID,
		TargetEmail: target.Email,
		Reason:      "removed by host",
	})
	c.publish(ctx, core.ParticipantsChannel(roomID), target)
	return nil
}

// RoomDeleted tears down coordination state for a deleted room: the
// pending reconciliation is cancelled rather than left to the status
// guard, the snapshot is dropped, and gateways are told to close streams.
func (c *Coordinator) RoomDeleted(ctx context.Context, roomID core.RoomID) {
	c.timers.Cancel(roomID)
	if err := c.snapshots.DeleteReadySnapshot(ctx, roomID); err != nil {
		c.logger.Warn("failed to delete ready snapshot", "room_id", roomID, "error", err)
	}
	c.publish(ctx, core.RoomDeletedChannel(roomID), core.RoomDeleted{RoomID: roomID})
}

// EnterRoom flags the caller as actively viewing the room, suppressing
// chat pushes to them while the flag lives.
func (c *Coordinator) EnterRoom(ctx context.Context, roomID core.RoomID, callerEmail core.Email) error {
	if c.active == nil {
		return nil
	}
	p, err := c.rooms.Participant(ctx, roomID, callerEmail)
	if err != nil {
		return err
	}
	return c.active.MarkActive(ctx, roomID, p.MemberID)
}

// LeaveRoom clears the caller's active flag immediately.
func (c *Coordinator) LeaveRoom(ctx context.Context, roomID core.RoomID, callerEmail core.Email) error {
	if c.active == nil {
		return nil
	}
	p, err := c.rooms.Participant(ctx, roomID, callerEmail)
	if err != nil {
		return err
	}
	return c.active.ClearActive(ctx, roomID, p.MemberID)
}

// IsParticipant implements the realtime authorization check.
func (c *Coordinator) IsParticipant(ctx context.Context, roomID core.RoomID, email core.Email) (bool, error) {
	_, err := c.rooms.Participant(ctx, roomID, email)
	if err == core.ErrParticipantNotFound || err == core.ErrRoomNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// publishSSE mirrors a domain event onto the room's server-push stream
// channel, from which gateways feed their SSE emitters.
func (c *Coordinator) publishSSE(ctx context.Context, roomID core.RoomID, name, senderName string, dir core.SSEDirection, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("failed to encode stream event", "event", name, "error", err)
		return
	}
	c.publish(ctx, core.SSEChannel(roomID), core.SSEEnvelope{
		EventName:  name,
		Data:       string(data),
		RoomID:     strconv.FormatInt(int64(roomID), 10),
		SenderName: senderName,
		Direction:  dir,
	})
}

func (c *Coordinator) publish(ctx context.Context, channel string, payload any) {
	if err := c.bus.Publish(ctx, channel, payload); err != nil {
		c.logger.Warn("publish failed", "channel", channel, "error", err)
	}
}
