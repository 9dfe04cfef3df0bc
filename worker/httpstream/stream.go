// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package httpstream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/xcherryio/taskgrid/common/httperror"
	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/common/urlautofix"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/worker"
)

const (
	ComputeApiPath = "/api/v1/taskgrid/worker/compute"
	ContentType    = "application/x-ndjson"
	// maxReplyLineSize bounds a single encoded reply
	maxReplyLineSize = 64 * 1024 * 1024
)

type streamHandlerImpl struct {
	url    string
	client *http.Client
	logger log.Logger
}

// NewStreamHandler returns a worker.StreamHandler posting one streaming request per task execution.
// Requests and replies are newline-delimited JSON
func NewStreamHandler(cfg config.WorkerConfig, logger log.Logger) worker.StreamHandler {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &streamHandlerImpl{
		url: urlautofix.FixWorkerUrl(cfg.Address) + ComputeApiPath,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:       dialer.DialContext,
				ForceAttemptHTTP2: true,
			},
		},
		logger: logger,
	}
}

func (h *streamHandlerImpl) Open(ctx context.Context) (worker.Stream, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, h.url, pr)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", ContentType)

	s := &streamImpl{
		cancel:    cancel,
		writer:    pw,
		encoder:   json.NewEncoder(pw),
		responded: make(chan struct{}),
		logger:    h.logger,
	}
	go func() {
		defer close(s.responded)
		httpResp, err := h.client.Do(httpReq)
		if httperror.CheckHttpResponseAndError(err, httpResp, h.logger) {
			if err == nil {
				err = httperror.ErrorFromResponse(httpResp)
				httpResp.Body.Close()
			}
			s.respErr = err
			// unblock the writers, the worker won't read anymore
			pw.CloseWithError(err)
			return
		}
		s.body = httpResp.Body
		s.scanner = bufio.NewScanner(httpResp.Body)
		s.scanner.Buffer(make([]byte, 0, 64*1024), maxReplyLineSize)
	}()
	return s, nil
}

func (h *streamHandlerImpl) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

type streamImpl struct {
	cancel  context.CancelFunc
	writer  *io.PipeWriter
	encoder *json.Encoder
	sendMu  sync.Mutex

	responded chan struct{}
	respErr   error
	body      io.ReadCloser
	scanner   *bufio.Scanner

	closeOnce sync.Once
	closed    bool
	logger    log.Logger
}

func (s *streamImpl) Send(ctx context.Context, request *worker.ComputeRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return worker.ErrStreamClosed
	}
	if err := s.encoder.Encode(request); err != nil {
		return fmt.Errorf("failed to send %v to worker: %w", request.Kind, err)
	}
	return nil
}

func (s *streamImpl) CloseSend() error {
	return s.writer.Close()
}

func (s *streamImpl) Recv(ctx context.Context) (*worker.ComputeReply, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.responded:
	}
	if s.respErr != nil {
		return nil, s.respErr
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		return nil, io.EOF
	}
	reply := &worker.ComputeReply{}
	if err := json.Unmarshal(s.scanner.Bytes(), reply); err != nil {
		return nil, fmt.Errorf("malformed worker reply: %w", err)
	}
	return reply, nil
}

func (s *streamImpl) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		// unblocks a pending Send before taking its lock
		s.writer.CloseWithError(worker.ErrStreamClosed)
		s.sendMu.Lock()
		s.closed = true
		s.sendMu.Unlock()

		<-s.responded
		if s.body != nil {
			err = s.body.Close()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
		}
		s.logger.Debug("worker stream closed", tag.Error(err))
	})
	return err
}
