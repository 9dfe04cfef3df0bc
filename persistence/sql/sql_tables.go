// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"fmt"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/extensions"
	"github.com/xcherryio/taskgrid/persistence"
)

// Tables are the task, session and result tables sharing one database session
type Tables struct {
	Tasks    persistence.TaskTable
	Sessions persistence.SessionTable
	Results  persistence.ResultTable

	session extensions.SQLDBSession
}

type sqlStore struct {
	session extensions.SQLDBSession
	logger  log.Logger
}

func NewSQLTables(sqlConfig config.SQL, logger log.Logger) (*Tables, error) {
	session, err := extensions.NewSQLSession(&sqlConfig)
	if err != nil {
		return nil, err
	}
	store := sqlStore{
		session: session,
		logger:  logger.WithTags(tag.Backend(sqlConfig.DBExtensionName)),
	}
	return &Tables{
		Tasks:    taskTableImpl{store},
		Sessions: sessionTableImpl{store},
		Results:  resultTableImpl{store},
		session:  session,
	}, nil
}

func (t *Tables) Close() error {
	return t.session.Close()
}

// inTransaction commits when fn succeeds and rolls back otherwise
func (s sqlStore) inTransaction(ctx context.Context, fn func(tx extensions.SQLTransaction) error) error {
	tx, err := s.session.StartTransaction(ctx, defaultTxOpts)
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		err2 := tx.Rollback()
		if err2 != nil {
			s.logger.Error("error on rollback transaction", tag.Error(err2))
		}
		return err
	}

	err = tx.Commit()
	if err != nil {
		s.logger.Error("error on committing transaction", tag.Error(err))
	}
	return err
}

// translate maps the errors the table interfaces define a sentinel for
func (s sqlStore) translate(err error, notFound, dup error, id string) error {
	switch {
	case err == nil:
		return nil
	case notFound != nil && s.session.IsNotFoundError(err):
		return fmt.Errorf("%w: %v", notFound, id)
	case dup != nil && s.session.IsDupEntryError(err):
		return fmt.Errorf("%w: %v", dup, id)
	default:
		return err
	}
}
