// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package httpstream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/worker"
)

// echoWorker returns the concatenated payload chunks as the result of the first expected output
func echoWorker(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var init *worker.InitRequest
		var payload []byte
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			req := worker.ComputeRequest{}
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			switch req.Kind {
			case worker.ComputeRequestKindInit:
				init = req.Init
			case worker.ComputeRequestKindPayloadChunk:
				payload = append(payload, req.Chunk...)
			}
		}
		if init == nil {
			http.Error(w, "missing init", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", ContentType)
		enc := json.NewEncoder(w)
		_ = enc.Encode(worker.ComputeReply{
			Kind:  worker.ComputeReplyKindResult,
			Key:   init.ExpectedOutputKeys[0],
			Chunk: payload,
			Last:  true,
		})
		_ = enc.Encode(worker.ComputeReply{Kind: worker.ComputeReplyKindCompletion})
	}
}

func TestStreamRoundTrip(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()

	server := httptest.NewServer(echoWorker(t))
	defer server.Close()

	handler := NewStreamHandler(config.WorkerConfig{Address: server.URL + "/", ConnectTimeout: time.Second}, log.NewNopLogger())
	defer handler.Close()

	stream, err := handler.Open(ctx)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Send(ctx, worker.NewInitRequest(worker.InitRequest{
		SessionId:          "s",
		TaskId:             "t",
		ExpectedOutputKeys: []string{"out"},
	})))
	require.NoError(t, stream.Send(ctx, worker.NewPayloadChunkRequest([]byte("hello "))))
	require.NoError(t, stream.Send(ctx, worker.NewPayloadChunkRequest([]byte("world"))))
	require.NoError(t, stream.Send(ctx, worker.NewRequest(worker.ComputeRequestKindPayloadComplete)))
	require.NoError(t, stream.Send(ctx, worker.NewRequest(worker.ComputeRequestKindLastData)))
	require.NoError(t, stream.CloseSend())

	reply, err := stream.Recv(ctx)
	require.NoError(t, err)
	ass.Equal(worker.ComputeReplyKindResult, reply.Kind)
	ass.Equal("out", reply.Key)
	ass.Equal("hello world", string(reply.Chunk))
	ass.True(reply.Last)

	reply, err = stream.Recv(ctx)
	require.NoError(t, err)
	ass.Equal(worker.ComputeReplyKindCompletion, reply.Kind)

	_, err = stream.Recv(ctx)
	ass.Equal(io.EOF, err)

	ass.NoError(stream.Close())
	ass.NoError(stream.Close())
	ass.Equal(worker.ErrStreamClosed, stream.Send(ctx, worker.NewRequest(worker.ComputeRequestKindLastData)))
}

func TestStreamWorkerRejects(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "worker is busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	handler := NewStreamHandler(config.WorkerConfig{Address: server.URL, ConnectTimeout: time.Second}, log.NewNopLogger())
	stream, err := handler.Open(ctx)
	require.NoError(t, err)
	defer stream.Close()

	_ = stream.Send(ctx, worker.NewRequest(worker.ComputeRequestKindLastData))
	_ = stream.CloseSend()

	_, err = stream.Recv(ctx)
	ass.Error(err)
	ass.Contains(err.Error(), "503")
}

func TestStreamRecvHonorsContext(t *testing.T) {
	ass := assert.New(t)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	handler := NewStreamHandler(config.WorkerConfig{Address: server.URL, ConnectTimeout: time.Second}, log.NewNopLogger())
	stream, err := handler.Open(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = stream.Recv(ctx)
	ass.ErrorIs(err, context.DeadlineExceeded)
}
