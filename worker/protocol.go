// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"github.com/xcherryio/taskgrid/persistence"
)

type ComputeRequestKind string

const (
	// ComputeRequestKindInit opens the request with the task metadata
	ComputeRequestKindInit            ComputeRequestKind = "Init"
	ComputeRequestKindPayloadChunk    ComputeRequestKind = "PayloadChunk"
	ComputeRequestKindPayloadComplete ComputeRequestKind = "PayloadComplete"
	// ComputeRequestKindDataInit opens the bytes of the dependency named by Key
	ComputeRequestKindDataInit     ComputeRequestKind = "DataInit"
	ComputeRequestKindDataChunk    ComputeRequestKind = "DataChunk"
	ComputeRequestKindDataComplete ComputeRequestKind = "DataComplete"
	// ComputeRequestKindLastData ends the request, no more data follows
	ComputeRequestKindLastData ComputeRequestKind = "LastData"
)

type ComputeReplyKind string

const (
	// ComputeReplyKindCreateTask asks the control plane to submit subtasks
	ComputeReplyKindCreateTask ComputeReplyKind = "CreateTask"
	// ComputeReplyKindResult carries a chunk of the result named by Key
	ComputeReplyKindResult ComputeReplyKind = "Result"
	// ComputeReplyKindCompletion ends the execution successfully
	ComputeReplyKindCompletion ComputeReplyKind = "Completion"
	// ComputeReplyKindError ends the execution with an error
	ComputeReplyKindError ComputeReplyKind = "Error"
)

type (
	// ComputeRequest is one message of the request stream sent to a worker
	ComputeRequest struct {
		Kind ComputeRequestKind `json:"kind"`
		// Init is set for ComputeRequestKindInit
		Init *InitRequest `json:"init,omitempty"`
		// Key is set for ComputeRequestKindDataInit
		Key   string `json:"key,omitempty"`
		Chunk []byte `json:"chunk,omitempty"`
	}

	InitRequest struct {
		SessionId          string                  `json:"sessionId"`
		TaskId             string                  `json:"taskId"`
		TaskOptions        persistence.TaskOptions `json:"taskOptions"`
		ExpectedOutputKeys []string                `json:"expectedOutputKeys"`
		DataDependencies   []string                `json:"dataDependencies"`
		// ChunkSize is the largest chunk the worker should send back
		ChunkSize int `json:"chunkSize"`
	}

	// ComputeReply is one message of the reply stream sent by a worker
	ComputeReply struct {
		Kind ComputeReplyKind `json:"kind"`
		// Tasks is set for ComputeReplyKindCreateTask
		Tasks []TaskRequest `json:"tasks,omitempty"`
		// Key, Chunk and Last are set for ComputeReplyKindResult.
		// Last marks the final chunk of the result
		Key   string `json:"key,omitempty"`
		Chunk []byte `json:"chunk,omitempty"`
		Last  bool   `json:"last,omitempty"`
		// Error is set for ComputeReplyKindError
		Error string `json:"error,omitempty"`
	}

	// TaskRequest is a subtask asked by a worker
	TaskRequest struct {
		ExpectedOutputKeys []string                 `json:"expectedOutputKeys"`
		DataDependencies   []string                 `json:"dataDependencies,omitempty"`
		Payload            []byte                   `json:"payload,omitempty"`
		Options            *persistence.TaskOptions `json:"options,omitempty"`
	}
)

func NewInitRequest(init InitRequest) *ComputeRequest {
	return &ComputeRequest{Kind: ComputeRequestKindInit, Init: &init}
}

func NewPayloadChunkRequest(chunk []byte) *ComputeRequest {
	return &ComputeRequest{Kind: ComputeRequestKindPayloadChunk, Chunk: chunk}
}

func NewDataInitRequest(key string) *ComputeRequest {
	return &ComputeRequest{Kind: ComputeRequestKindDataInit, Key: key}
}

func NewDataChunkRequest(chunk []byte) *ComputeRequest {
	return &ComputeRequest{Kind: ComputeRequestKindDataChunk, Chunk: chunk}
}

func NewRequest(kind ComputeRequestKind) *ComputeRequest {
	return &ComputeRequest{Kind: kind}
}
