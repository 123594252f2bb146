// Package memory is an in-memory implementation of the relational-store
// interfaces, used by tests and the demo server.
package memory

import (
	"context"
	"sync"

	"campusride/core"
)

// Store holds rooms, participants, members, and push tokens behind one
// mutex. Not meant for production fleets; state is per-process.
type Store struct {
	mu           sync.Mutex
	rooms        map[core.RoomID]core.Room
	participants map[core.RoomID]map[core.MemberID]core.Participant
	members      map[core.MemberID]core.Member
	tokens       map[core.MemberID][]string
}

func New() *Store {
	return &Store{
		rooms:        make(map[core.RoomID]core.Room),
		participants: make(map[core.RoomID]map[core.MemberID]core.Participant),
		members:      make(map[core.MemberID]core.Member),
		tokens:       make(map[core.MemberID][]string),
	}
}

func (s *Store) Room(_ context.Context, id core.RoomID) (core.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return core.Room{}, core.ErrRoomNotFound
	}
	return room, nil
}

func (s *Store) SaveRoom(_ context.Context, room core.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room
	return nil
}

func (s *Store) Participants(_ context.Context, roomID core.RoomID) ([]core.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Participant, 0, len(s.participants[roomID]))
	for _, p := range s.participants[roomID] {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) Participant(_ context.Context, roomID core.RoomID, email core.Email) (core.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants[roomID] {
		if p.Email == email {
			return p, nil
		}
	}
	return core.Participant{}, core.ErrParticipantNotFound
}

func (s *Store) SaveParticipant(_ context.Context, p core.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.participants[p.RoomID] == nil {
		s.participants[p.RoomID] = make(map[core.MemberID]core.Participant)
	}
	s.participants[p.RoomID][p.MemberID] = p
	return nil
}

func (s *Store) RemoveParticipant(_ context.Context, roomID core.RoomID, memberID core.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants[roomID], memberID)
	return nil
}

func (s *Store) MemberByEmail(_ context.Context, email core.Email) (core.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.Email == email {
			return m, nil
		}
	}
	return core.Member{}, core.ErrMemberNotFound
}

func (s *Store) SaveMember(_ context.Context, m core.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.ID] = m
	return nil
}

func (s *Store) TokensForMembers(_ context.Context, ids []core.MemberID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range ids {
		out = append(out, s.tokens[id]...)
	}
	return out, nil
}

func (s *Store) SaveToken(_ context.Context, id core.MemberID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tokens[id] {
		if existing == token {
			return nil
		}
	}
	s.tokens[id] = append(s.tokens[id], token)
	return nil
}

func (s *Store) PurgeToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tokens := range s.tokens {
		kept := tokens[:0]
		for _, t := range tokens {
			if t != token {
				kept = append(kept, t)
			}
		}
		s.tokens[id] = kept
	}
	return nil
}
