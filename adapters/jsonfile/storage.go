// Package jsonfile persists the relational-store state to a single JSON
// file. Suitable for demos and single-instance deployments; concurrent
// server fleets need the sql adapter.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"campusride/core"
)

type state struct {
	Rooms        map[core.RoomID]core.Room                          `json:"rooms"`
	Participants map[core.RoomID]map[core.MemberID]core.Participant `json:"participants"`
	Members      map[core.MemberID]core.Member                      `json:"members"`
	Tokens       map[core.MemberID][]string                         `json:"tokens"`
}

// Store keeps the whole state in memory and rewrites the file on every
// mutation.
type Store struct {
	path string
	mu   sync.Mutex
	data state
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: state{
		Rooms:        map[core.RoomID]core.Room{},
		Participants: map[core.RoomID]map[core.MemberID]core.Participant{},
		Members:      map[core.MemberID]core.Member{},
		Tokens:       map[core.MemberID][]string{},
	}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, &s.data)
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) Room(_ context.Context, id core.RoomID) (core.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.data.Rooms[id]
	if !ok {
		return core.Room{}, core.ErrRoomNotFound
	}
	return room, nil
}

func (s *Store) SaveRoom(_ context.Context, room core.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Rooms[room.ID] = room
	return s.persist()
}

func (s *Store) Participants(_ context.Context, roomID core.RoomID) ([]core.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Participant, 0, len(s.data.Participants[roomID]))
	for _, p := range s.data.Participants[roomID] {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) Participant(_ context.Context, roomID core.RoomID, email core.Email) (core.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.data.Participants[roomID] {
		if p.Email == email {
			return p, nil
		}
	}
	return core.Participant{}, core.ErrParticipantNotFound
}

func (s *Store) SaveParticipant(_ context.Context, p core.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Participants[p.RoomID] == nil {
		s.data.Participants[p.RoomID] = map[core.MemberID]core.Participant{}
	}
	s.data.Participants[p.RoomID][p.MemberID] = p
	return s.persist()
}

func (s *Store) RemoveParticipant(_ context.Context, roomID core.RoomID, memberID core.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.Participants[roomID], memberID)
	return s.persist()
}

func (s *Store) MemberByEmail(_ context.Context, email core.Email) (core.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.data.Members {
		if m.Email == email {
			return m, nil
		}
	}
	return core.Member{}, core.ErrMemberNotFound
}

func (s *Store) SaveMember(_ context.Context, m core.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Members[m.ID] = m
	return s.persist()
}

func (s *Store) TokensForMembers(_ context.Context, ids []core.MemberID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range ids {
		out = append(out, s.data.Tokens[id]...)
	}
	return out, nil
}

func (s *Store) SaveToken(_ context.Context, id core.MemberID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.data.Tokens[id] {
		if existing == token {
			return nil
		}
	}
	s.data.Tokens[id] = append(s.data.Tokens[id], token)
	return s.persist()
}

func (s *Store) PurgeToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tokens := range s.data.Tokens {
		kept := tokens[:0]
		for _, t := range tokens {
			if t != token {
				kept = append(kept, t)
			}
		}
		s.data.Tokens[id] = kept
	}
	return s.persist()
}
