package notify

import (
	"context"
	"log/slog"
	"time"

	"campusride/core"

	"github.com/google/uuid"
)

// Queue is the shared FIFO with dedup gating. EnqueueNotification
// reports whether the event was accepted or collapsed into an existing
// business key.
type Queue interface {
	EnqueueNotification(ctx context.Context, ev core.NotificationEvent) (bool, error)
	DequeueNotification(ctx context.Context, timeout time.Duration) (core.NotificationEvent, bool, error)
	MarkEventCompleted(ctx context.Context, businessKey string) error
}

// ActiveChecker reports whether a member is currently viewing a room.
type ActiveChecker interface {
	IsActive(ctx context.Context, roomID core.RoomID, memberID core.MemberID) (bool, error)
}

// Service is the trigger side of the pipeline. Every server instance may
// independently decide a notification should go out; the business key
// makes the fleet enqueue it at most once per window. All methods are
// fire-and-forget: failures are logged and never reach the caller.
type Service struct {
	queue  Queue
	active ActiveChecker
	logger *slog.Logger
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithServiceLogger overrides the default logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func NewService(queue Queue, active ActiveChecker, opts ...ServiceOption) *Service {
	s := &Service{queue: queue, active: active, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChatMessage enqueues one push per recipient of a room message. The
// sender and members actively viewing the room are excluded.
func (s *Service) ChatMessage(ctx context.Context, roomID core.RoomID, sender core.Participant, body string, recipients []core.Participant) {
	now := s.now()
	for _, p := range recipients {
		if p.MemberID == sender.MemberID {
			continue
		}
		if s.viewing(ctx, roomID, p.MemberID) {
			continue
		}
		s.enqueue(ctx, core.NotificationEvent{
			EventID:         uuid.NewString(),
			BusinessKey:     ChatBusinessKey(roomID, p.MemberID, body, now),
			Type:            core.NotifyChatMessage,
			TargetMemberIDs: []core.MemberID{p.MemberID},
			Title:           sender.Nickname,
			Body:            body,
			Data:            map[string]string{"roomId": roomID.String()},
			CreatedAt:       now,
		})
	}
}

// ReadyRequested enqueues the ready-check push for every non-host
// participant. Implements the coordinator's Notifier hook.
func (s *Service) ReadyRequested(ctx context.Context, room core.Room, host core.Participant, targets []core.Participant) {
	now := s.now()
	ids := make([]core.MemberID, 0, len(targets))
	for _, p := range targets {
		ids = append(ids, p.MemberID)
	}
	if len(ids) == 0 {
		return
	}
	s.enqueue(ctx, core.NotificationEvent{
		EventID:         uuid.NewString(),
		BusinessKey:     ReadyBusinessKey(room.ID, now),
		Type:            core.NotifyReadyRequest,
		TargetMemberIDs: ids,
		Title:           room.Title,
		Body:            host.Nickname + " started a ready check",
		Data:            map[string]string{"roomId": room.ID.String()},
		CreatedAt:       now,
	})
}

// System enqueues a direct system notification for one member.
func (s *Service) System(ctx context.Context, target core.MemberID, title, body string) {
	now := s.now()
	s.enqueue(ctx, core.NotificationEvent{
		EventID:         uuid.NewString(),
		BusinessKey:     SystemBusinessKey(target, title, body, now),
		Type:            core.NotifySystem,
		TargetMemberIDs: []core.MemberID{target},
		Title:           title,
		Body:            body,
		CreatedAt:       now,
	})
}

func (s *Service) viewing(ctx context.Context, roomID core.RoomID, memberID core.MemberID) bool {
	if s.active == nil {
		return false
	}
	active, err := s.active.IsActive(ctx, roomID, memberID)
	if err != nil {
		s.logger.Warn("active-status check failed", "room_id", roomID, "member_id", memberID, "error", err)
		return false
	}
	return active
}

func (s *Service) enqueue(ctx context.Context, ev core.NotificationEvent) {
	accepted, err := s.queue.EnqueueNotification(ctx, ev)
	if err != nil {
		s.logger.Warn("notification enqueue failed", "business_key", ev.BusinessKey, "error", err)
		return
	}
	if !accepted {
		s.logger.Debug("notification deduplicated", "business_key", ev.BusinessKey)
	}
}
