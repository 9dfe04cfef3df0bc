// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"fmt"

	"github.com/xcherryio/taskgrid/persistence"
)

type sessionTableImpl struct {
	sqlStore
}

var _ persistence.SessionTable = sessionTableImpl{}

func (s sessionTableImpl) CreateSession(ctx context.Context, session persistence.Session) error {
	row, err := sessionToRow(&session)
	if err != nil {
		return err
	}
	err = s.session.InsertSession(ctx, row)
	return s.translate(err, nil, persistence.ErrSessionAlreadyExists, session.Id)
}

func (s sessionTableImpl) GetSession(ctx context.Context, sessionId string) (*persistence.Session, error) {
	row, err := s.session.SelectSession(ctx, sessionId)
	if err != nil {
		return nil, s.translate(err, persistence.ErrSessionNotFound, nil, sessionId)
	}
	return rowToSession(row)
}

func (s sessionTableImpl) IsSessionCancelled(ctx context.Context, sessionId string) (bool, error) {
	session, err := s.GetSession(ctx, sessionId)
	if err != nil {
		return false, err
	}
	return session.Status == persistence.SessionStatusCancelled, nil
}

func (s sessionTableImpl) CancelSession(ctx context.Context, sessionId string) (*persistence.Session, error) {
	row, err := s.session.CancelRunningSession(ctx, sessionId)
	if err == nil {
		return rowToSession(row)
	}
	if !s.session.IsNotFoundError(err) {
		return nil, err
	}

	// nothing running matched, tell a missing session from a cancelled one
	if _, err := s.GetSession(ctx, sessionId); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", persistence.ErrSessionAlreadyCancelled, sessionId)
}

func (s sessionTableImpl) ListSessions(
	ctx context.Context, filter persistence.SessionFilter,
) ([]persistence.Session, error) {
	var statuses []int32
	for _, status := range filter.Statuses {
		statuses = append(statuses, int32(status))
	}
	rows, err := s.session.SelectSessions(ctx, statuses)
	if err != nil {
		return nil, err
	}
	var sessions []persistence.Session
	for i := range rows {
		session, err := rowToSession(&rows[i])
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, nil
}

func (s sessionTableImpl) DeleteSession(ctx context.Context, sessionId string) error {
	deleted, err := s.session.DeleteSession(ctx, sessionId)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %v", persistence.ErrSessionNotFound, sessionId)
	}
	return nil
}
