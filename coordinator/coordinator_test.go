package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "campusride/adapters/memory"
	"campusride/core"
)

// fakeSnapshots mimics the TTL snapshot store without a clock: expiry is
// simulated by calling expire().
type fakeSnapshots struct {
	mu     sync.Mutex
	counts map[core.RoomID]int
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{counts: make(map[core.RoomID]int)}
}

func (f *fakeSnapshots) PutReadySnapshot(_ context.Context, roomID core.RoomID, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[roomID] = count
	return nil
}

func (f *fakeSnapshots) ReadySnapshot(_ context.Context, roomID core.RoomID) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count, ok := f.counts[roomID]
	return count, ok, nil
}

func (f *fakeSnapshots) DeleteReadySnapshot(_ context.Context, roomID core.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, roomID)
	return nil
}

func (f *fakeSnapshots) expire(roomID core.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, roomID)
}

type fakeActive struct {
	mu    sync.Mutex
	flags map[string]bool
}

func newFakeActive() *fakeActive { return &fakeActive{flags: make(map[string]bool)} }

func (f *fakeActive) key(roomID core.RoomID, memberID core.MemberID) string {
	return roomID.String() + ":" + memberID.String()
}

func (f *fakeActive) MarkActive(_ context.Context, roomID core.RoomID, memberID core.MemberID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[f.key(roomID, memberID)] = true
	return nil
}

func (f *fakeActive) ClearActive(_ context.Context, roomID core.RoomID, memberID core.MemberID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.flags, f.key(roomID, memberID))
	return nil
}

func (f *fakeActive) active(roomID core.RoomID, memberID core.MemberID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags[f.key(roomID, memberID)]
}

type published struct {
	channel string
	payload any
}

type fakeBus struct {
	mu     sync.Mutex
	events []published
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{channel: channel, payload: payload})
	return nil
}

func (f *fakeBus) onChannel(channel string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.events {
		if e.channel == channel {
			out = append(out, e.payload)
		}
	}
	return out
}

type readyCall struct {
	room    core.Room
	host    core.Participant
	targets []core.Participant
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []readyCall
}

func (f *fakeNotifier) ReadyRequested(_ context.Context, room core.Room, host core.Participant, targets []core.Participant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, readyCall{room: room, host: host, targets: targets})
}

type fixture struct {
	store     *mem.Store
	snapshots *fakeSnapshots
	active    *fakeActive
	bus       *fakeBus
	notifier  *fakeNotifier
	coord     *Coordinator
}

// newFixture builds a coordinator around a waiting room with a host and
// two riders. The reconcile delay is an hour so tests trigger Reconcile
// explicitly.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     mem.New(),
		snapshots: newFakeSnapshots(),
		active:    newFakeActive(),
		bus:       &fakeBus{},
		notifier:  &fakeNotifier{},
	}
	f.coord = New(f.store, f.snapshots, f.active, f.bus, NewReconcileTimers(),
		WithNotifier(f.notifier),
		WithReconcileDelay(time.Hour))

	ctx := context.Background()
	require.NoError(t, f.store.SaveRoom(ctx, core.Room{
		ID: 1, Title: "station run", Capacity: 4, Status: core.RoomWaiting, HostID: 10,
	}))
	for _, p := range []core.Participant{
		{RoomID: 1, MemberID: 10, Email: "host@campus.edu", Nickname: "Host", IsHost: true},
		{RoomID: 1, MemberID: 11, Email: "kim@campus.edu", Nickname: "Kim"},
		{RoomID: 1, MemberID: 12, Email: "lee@campus.edu", Nickname: "Lee"},
	} {
		require.NoError(t, f.store.SaveParticipant(ctx, p))
	}
	return f
}

func (f *fixture) room(t *testing.T, id core.RoomID) core.Room {
	t.Helper()
	room, err := f.store.Room(context.Background(), id)
	require.NoError(t, err)
	return room
}

func (f *fixture) participant(t *testing.T, email core.Email) core.Participant {
	t.Helper()
	p, err := f.store.Participant(context.Background(), 1, email)
	require.NoError(t, err)
	return p
}

func TestRequestReadyLocksRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))

	assert.Equal(t, core.RoomReadyLocked, f.room(t, 1).Status)
	assert.True(t, f.participant(t, "host@campus.edu").IsReady)

	count, present, err := f.snapshots.ReadySnapshot(ctx, 1)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, 3, count)

	notices := f.bus.onChannel(core.ReadyChannel(1))
	require.Len(t, notices, 1)
	assert.Equal(t, core.ReadyRequest, notices[0].(core.ReadyNotice).Type)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.calls, 1)
	assert.Len(t, f.notifier.calls[0].targets, 2) // host excluded

	assert.Equal(t, 1, f.coord.timers.Pending())
	f.coord.timers.Cancel(1)
}

func TestRequestReadyPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.coord.RequestReady(ctx, 99, "host@campus.edu"), core.ErrRoomNotFound)
	assert.ErrorIs(t, f.coord.RequestReady(ctx, 1, "kim@campus.edu"), core.ErrNotHost)
	assert.ErrorIs(t, f.coord.RequestReady(ctx, 1, "stranger@campus.edu"), core.ErrNotHost)

	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))
	assert.ErrorIs(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"), core.ErrRoomNotWaiting)
	f.coord.timers.Cancel(1)
}

func TestAcceptReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))
	defer f.coord.timers.Cancel(1)

	require.NoError(t, f.coord.AcceptReady(ctx, 1, "kim@campus.edu"))
	assert.True(t, f.participant(t, "kim@campus.edu").IsReady)

	notices := f.bus.onChannel(core.ReadyChannel(1))
	require.Len(t, notices, 2)
	assert.Equal(t, core.ReadyAccept, notices[1].(core.ReadyNotice).Type)

	// A second accept from the same participant is rejected
	assert.ErrorIs(t, f.coord.AcceptReady(ctx, 1, "kim@campus.edu"), core.ErrAlreadyReady)
}

func TestAcceptReadyPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Room still WAITING
	assert.ErrorIs(t, f.coord.AcceptReady(ctx, 1, "kim@campus.edu"), core.ErrRoomNotReadyLocked)

	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))
	defer f.coord.timers.Cancel(1)

	assert.ErrorIs(t, f.coord.AcceptReady(ctx, 1, "host@campus.edu"), core.ErrCallerIsHost)
	assert.ErrorIs(t, f.coord.AcceptReady(ctx, 1, "stranger@campus.edu"), core.ErrParticipantNotFound)
}

func TestRejectReadyRemovesParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))
	defer f.coord.timers.Cancel(1)

	require.NoError(t, f.coord.RejectReady(ctx, 1, "lee@campus.edu"))

	_, err := f.store.Participant(ctx, 1, "lee@campus.edu")
	assert.ErrorIs(t, err, core.ErrParticipantNotFound)

	notices := f.bus.onChannel(core.ReadyChannel(1))
	assert.Equal(t, core.ReadyDeny, notices[len(notices)-1].(core.ReadyNotice).Type)

	roster := f.bus.onChannel(core.ParticipantsChannel(1))
	require.Len(t, roster, 1)
	assert.Equal(t, core.MemberID(12), roster[0].(core.Participant).MemberID)
}

func TestReconcileAllReadyMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))
	f.coord.timers.Cancel(1)
	require.NoError(t, f.coord.AcceptReady(ctx, 1, "kim@campus.edu"))
	require.NoError(t, f.coord.AcceptReady(ctx, 1, "lee@campus.edu"))

	require.NoError(t, f.coord.Reconcile(ctx, 1))

	room := f.room(t, 1)
	assert.Equal(t, core.RoomMatched, room.Status)
	require.NotNil(t, room.MatchedAt)

	// Snapshot is consumed
	_, present, err := f.snapshots.ReadySnapshot(ctx, 1)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestReconcilePartialAcceptReverts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))
	f.coord.timers.Cancel(1)
	require.NoError(t, f.coord.AcceptReady(ctx, 1, "kim@campus.edu"))
	// lee never answers

	require.NoError(t, f.coord.Reconcile(ctx, 1))

	assert.Equal(t, core.RoomWaiting, f.room(t, 1).Status)

	// The silent participant is removed, the confirmed one stays with the
	// flag reset, the host keeps its flag
	_, err := f.store.Participant(ctx, 1, "lee@campus.edu")
	assert.ErrorIs(t, err, core.ErrParticipantNotFound)
	assert.False(t, f.participant(t, "kim@campus.edu").IsReady)
	assert.True(t, f.participant(t, "host@campus.edu").IsReady)

	roster := f.bus.onChannel(core.ParticipantsChannel(1))
	require.Len(t, roster, 1)
	assert.Equal(t, core.MemberID(12), roster[0].(core.Participant).MemberID)
}

func TestReconcileExpiredSnapshotReverts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))
	f.coord.timers.Cancel(1)
	require.NoError(t, f.coord.AcceptReady(ctx, 1, "kim@campus.edu"))
	require.NoError(t, f.coord.AcceptReady(ctx, 1, "lee@campus.edu"))

	// The point-in-time witness vanished: quorum cannot be confirmed
	f.snapshots.expire(1)
	require.NoError(t, f.coord.Reconcile(ctx, 1))

	assert.Equal(t, core.RoomWaiting, f.room(t, 1).Status)
	// Everyone answered, so nobody is removed; flags reset on non-hosts
	assert.False(t, f.participant(t, "kim@campus.edu").IsReady)
	assert.False(t, f.participant(t, "lee@campus.edu").IsReady)
}

func TestReconcileIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))
	f.coord.timers.Cancel(1)
	require.NoError(t, f.coord.AcceptReady(ctx, 1, "kim@campus.edu"))
	require.NoError(t, f.coord.AcceptReady(ctx, 1, "lee@campus.edu"))

	require.NoError(t, f.coord.Reconcile(ctx, 1))
	matchedAt := f.room(t, 1).MatchedAt

	// A second delivery of the same reconciliation is a no-op
	require.NoError(t, f.coord.Reconcile(ctx, 1))
	assert.Equal(t, core.RoomMatched, f.room(t, 1).Status)
	assert.Equal(t, matchedAt, f.room(t, 1).MatchedAt)
}

func TestReconcileNonLockedRoomIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.Reconcile(ctx, 1))
	assert.Equal(t, core.RoomWaiting, f.room(t, 1).Status)

	// A deleted room does not error either
	require.NoError(t, f.coord.Reconcile(ctx, 99))
}

func TestReconcileFiresFromTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.coord.reconcileDelay = 10 * time.Millisecond

	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))
	require.NoError(t, f.coord.AcceptReady(ctx, 1, "kim@campus.edu"))
	require.NoError(t, f.coord.AcceptReady(ctx, 1, "lee@campus.edu"))

	deadline := time.Now().Add(2 * time.Second)
	for f.room(t, 1).Status != core.RoomMatched {
		if time.Now().After(deadline) {
			t.Fatal("timer never reconciled the room")
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, f.coord.timers.Pending())
}

func TestKick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.coord.Kick(ctx, 1, "kim@campus.edu", "lee@campus.edu"), core.ErrNotHost)

	require.NoError(t, f.coord.Kick(ctx, 1, "host@campus.edu", "kim@campus.edu"))
	_, err := f.store.Participant(ctx, 1, "kim@campus.edu")
	assert.ErrorIs(t, err, core.ErrParticipantNotFound)

	kicks := f.bus.onChannel(core.KickChannel(1))
	require.Len(t, kicks, 1)
	assert.Equal(t, core.Email("kim@campus.edu"), kicks[0].(core.KickNotice).TargetEmail)

	assert.ErrorIs(t, f.coord.Kick(ctx, 1, "host@campus.edu", "gone@campus.edu"), core.ErrParticipantNotFound)
}

func TestRoomDeletedCancelsTimerAndAnnounces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))
	require.Equal(t, 1, f.coord.timers.Pending())

	f.coord.RoomDeleted(ctx, 1)

	assert.Equal(t, 0, f.coord.timers.Pending())
	_, present, err := f.snapshots.ReadySnapshot(ctx, 1)
	require.NoError(t, err)
	assert.False(t, present)

	deleted := f.bus.onChannel(core.RoomDeletedChannel(1))
	require.Len(t, deleted, 1)
}

func TestEnterLeaveRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.EnterRoom(ctx, 1, "kim@campus.edu"))
	assert.True(t, f.active.active(1, 11))

	require.NoError(t, f.coord.LeaveRoom(ctx, 1, "kim@campus.edu"))
	assert.False(t, f.active.active(1, 11))

	assert.ErrorIs(t, f.coord.EnterRoom(ctx, 1, "stranger@campus.edu"), core.ErrParticipantNotFound)
}

func TestIsParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.coord.IsParticipant(ctx, 1, "kim@campus.edu")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.coord.IsParticipant(ctx, 1, "stranger@campus.edu")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.coord.IsParticipant(ctx, 99, "kim@campus.edu")
	require.NoError(t, err)
	assert.False(t, ok)
}

// envelopesOn collects SSE envelopes published on the room's stream
// channel.
func (f *fixture) envelopesOn(roomID core.RoomID) []core.SSEEnvelope {
	var out []core.SSEEnvelope
	for _, payload := range f.bus.onChannel(core.SSEChannel(roomID)) {
		if env, ok := payload.(core.SSEEnvelope); ok {
			out = append(out, env)
		}
	}
	return out
}

func TestReadyFlowMirrorsStreamChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))
	require.NoError(t, f.coord.AcceptReady(ctx, 1, "kim@campus.edu"))
	require.NoError(t, f.coord.AcceptReady(ctx, 1, "lee@campus.edu"))
	require.NoError(t, f.coord.Reconcile(ctx, 1))

	envelopes := f.envelopesOn(1)
	require.Len(t, envelopes, 4)

	assert.Equal(t, core.SSEReadyRequest, envelopes[0].EventName)
	assert.Equal(t, "1", envelopes[0].RoomID)
	assert.Equal(t, "Host", envelopes[0].SenderName)
	assert.Equal(t, core.DirectionClient, envelopes[0].Direction)
	var notice core.ReadyNotice
	require.NoError(t, json.Unmarshal([]byte(envelopes[0].Data), &notice))
	assert.Equal(t, core.ReadyRequest, notice.Type)

	assert.Equal(t, core.SSEReadyAccept, envelopes[1].EventName)
	assert.Equal(t, core.DirectionHost, envelopes[1].Direction)
	assert.Equal(t, "Kim", envelopes[1].SenderName)

	assert.Equal(t, core.SSEMatched, envelopes[3].EventName)
	var result core.ReconcileResult
	require.NoError(t, json.Unmarshal([]byte(envelopes[3].Data), &result))
	assert.Equal(t, core.RoomMatched, result.Status)
	assert.NotNil(t, result.MatchedAt)

	f.coord.timers.Cancel(1)
}

func TestRejectAndRevertMirrorStreamChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.RequestReady(ctx, 1, "host@campus.edu"))
	require.NoError(t, f.coord.RejectReady(ctx, 1, "kim@campus.edu"))
	require.NoError(t, f.coord.Reconcile(ctx, 1))

	envelopes := f.envelopesOn(1)
	require.Len(t, envelopes, 3)
	assert.Equal(t, core.SSEReadyDeny, envelopes[1].EventName)
	assert.Equal(t, "Kim", envelopes[1].SenderName)

	// kim left, lee never answered: the check reverts and removes lee
	assert.Equal(t, core.SSEReadyRevert, envelopes[2].EventName)
	var result core.ReconcileResult
	require.NoError(t, json.Unmarshal([]byte(envelopes[2].Data), &result))
	assert.Equal(t, core.RoomWaiting, result.Status)
	assert.Equal(t, 1, result.Removed)

	f.coord.timers.Cancel(1)
}
