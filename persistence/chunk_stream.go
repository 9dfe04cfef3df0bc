// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// ChunkStream is a lazy sequence of byte chunks
type ChunkStream interface {
	// Next returns the next chunk, or io.EOF once the stream is exhausted
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

type sliceChunkStream struct {
	chunks [][]byte
	pos    int
}

// NewChunkStream returns a stream over chunks already in memory
func NewChunkStream(chunks ...[]byte) ChunkStream {
	return &sliceChunkStream{chunks: chunks}
}

func (s *sliceChunkStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *sliceChunkStream) Close() error {
	s.chunks = nil
	return nil
}

type prependedChunkStream struct {
	head [][]byte
	rest ChunkStream
}

// PrependChunks returns a stream yielding head before the chunks of rest
func PrependChunks(head [][]byte, rest ChunkStream) ChunkStream {
	return &prependedChunkStream{head: head, rest: rest}
}

func (s *prependedChunkStream) Next(ctx context.Context) ([]byte, error) {
	if len(s.head) > 0 {
		chunk := s.head[0]
		s.head = s.head[1:]
		return chunk, nil
	}
	if s.rest == nil {
		return nil, io.EOF
	}
	return s.rest.Next(ctx)
}

func (s *prependedChunkStream) Close() error {
	s.head = nil
	if s.rest == nil {
		return nil
	}
	return s.rest.Close()
}

type readerChunkStream struct {
	reader    io.ReadCloser
	chunkSize int
	done      bool
}

// NewReaderChunkStream splits the content of reader in chunks of chunkSize, reading one chunk per Next
func NewReaderChunkStream(reader io.ReadCloser, chunkSize int) ChunkStream {
	return &readerChunkStream{reader: reader, chunkSize: chunkSize}
}

func (s *readerChunkStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.reader, buf)
	if errors.Is(err, io.EOF) {
		s.done = true
		return nil, io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		s.done = true
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *readerChunkStream) Close() error {
	return s.reader.Close()
}

// ReadAll concatenates the remaining chunks of the stream and closes it
func ReadAll(ctx context.Context, stream ChunkStream) ([]byte, error) {
	defer stream.Close()
	var buf bytes.Buffer
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}
}

// ReadAllChunks collects the remaining chunks of the stream and closes it
func ReadAllChunks(ctx context.Context, stream ChunkStream) ([][]byte, error) {
	defer stream.Close()
	var chunks [][]byte
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
}

// SplitChunks cuts data in chunks of at most size bytes. Empty data gives no chunk
func SplitChunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = len(data)
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

type chunkStreamReader struct {
	ctx     context.Context
	stream  ChunkStream
	current []byte
}

// NewChunkStreamReader exposes the stream as an io.Reader
func NewChunkStreamReader(ctx context.Context, stream ChunkStream) io.Reader {
	return &chunkStreamReader{ctx: ctx, stream: stream}
}

func (r *chunkStreamReader) Read(p []byte) (int, error) {
	for len(r.current) == 0 {
		chunk, err := r.stream.Next(r.ctx)
		if err != nil {
			return 0, err
		}
		r.current = chunk
	}
	n := copy(p, r.current)
	r.current = r.current[n:]
	return n, nil
}
