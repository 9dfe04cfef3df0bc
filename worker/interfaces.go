// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by Send and Recv once the stream is closed
var ErrStreamClosed = errors.New("worker stream closed")

type (
	// ComputeRequestStream is the lazy sequence of requests for one task execution
	ComputeRequestStream interface {
		// Next returns io.EOF after the last request
		Next(ctx context.Context) (*ComputeRequest, error)
		Close() error
	}

	// Stream is a duplex channel to a compute worker, bound to one task execution
	Stream interface {
		Send(ctx context.Context, request *ComputeRequest) error
		// CloseSend tells the worker that the request is complete
		CloseSend() error
		// Recv returns io.EOF when the worker ends the reply stream
		Recv(ctx context.Context) (*ComputeReply, error)
		// Close tears the channel down, only the first call has an effect
		Close() error
	}

	// StreamHandler opens the worker streams
	StreamHandler interface {
		Open(ctx context.Context) (Stream, error)
		Close() error
	}
)
