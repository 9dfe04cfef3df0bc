// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xcherryio/taskgrid/persistence"
)

type sessionTableImpl struct {
	sync.RWMutex
	sessions map[string]*persistence.Session
}

// NewSessionTable returns a SessionTable kept in the process memory
func NewSessionTable() persistence.SessionTable {
	return &sessionTableImpl{
		sessions: map[string]*persistence.Session{},
	}
}

func (s *sessionTableImpl) CreateSession(ctx context.Context, session persistence.Session) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.sessions[session.Id]; ok {
		return fmt.Errorf("%w: %v", persistence.ErrSessionAlreadyExists, session.Id)
	}
	s.sessions[session.Id] = cloneSession(&session)
	return nil
}

func (s *sessionTableImpl) GetSession(ctx context.Context, sessionId string) (*persistence.Session, error) {
	s.RLock()
	defer s.RUnlock()

	session, ok := s.sessions[sessionId]
	if !ok {
		return nil, fmt.Errorf("%w: %v", persistence.ErrSessionNotFound, sessionId)
	}
	return cloneSession(session), nil
}

func (s *sessionTableImpl) IsSessionCancelled(ctx context.Context, sessionId string) (bool, error) {
	session, err := s.GetSession(ctx, sessionId)
	if err != nil {
		return false, err
	}
	return session.Status == persistence.SessionStatusCancelled, nil
}

func (s *sessionTableImpl) CancelSession(ctx context.Context, sessionId string) (*persistence.Session, error) {
	s.Lock()
	defer s.Unlock()

	session, ok := s.sessions[sessionId]
	if !ok {
		return nil, fmt.Errorf("%w: %v", persistence.ErrSessionNotFound, sessionId)
	}
	if session.Status != persistence.SessionStatusRunning {
		return nil, fmt.Errorf("%w: %v", persistence.ErrSessionAlreadyCancelled, sessionId)
	}
	now := time.Now()
	session.Status = persistence.SessionStatusCancelled
	session.CancellationDate = &now
	return cloneSession(session), nil
}

func (s *sessionTableImpl) ListSessions(
	ctx context.Context, filter persistence.SessionFilter,
) ([]persistence.Session, error) {
	s.RLock()
	defer s.RUnlock()

	var out []persistence.Session
	for _, session := range s.sessions {
		if len(filter.Statuses) > 0 && !containsSessionStatus(filter.Statuses, session.Status) {
			continue
		}
		out = append(out, *cloneSession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreationDate.Before(out[j].CreationDate)
	})
	return out, nil
}

func (s *sessionTableImpl) DeleteSession(ctx context.Context, sessionId string) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.sessions[sessionId]; !ok {
		return fmt.Errorf("%w: %v", persistence.ErrSessionNotFound, sessionId)
	}
	delete(s.sessions, sessionId)
	return nil
}

func containsSessionStatus(list []persistence.SessionStatus, status persistence.SessionStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func cloneSession(session *persistence.Session) *persistence.Session {
	c := *session
	c.PartitionIds = cloneStrings(session.PartitionIds)
	c.CancellationDate = cloneTime(session.CancellationDate)
	return &c
}
