// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"sync"
)

// DefaultChunkSize is the largest single read a relay direction makes.
const DefaultChunkSize = 4096

// Direction identifies one half of a relay.
type Direction int

const (
	// AToB carries bytes read from the first connection to the second.
	AToB Direction = iota
	// BToA carries bytes read from the second connection to the first.
	BToA
)

func (d Direction) String() string {
	if d == AToB {
		return "a_to_b"
	}
	return "b_to_a"
}

// RelayOptions tunes a Relay. The zero value is usable.
type RelayOptions struct {
	// ChunkSize bounds each read. Zero means DefaultChunkSize.
	ChunkSize int

	// OnChunk, if set, is called after each chunk has been written to
	// its destination. It runs on the relay goroutine for that
	// direction and must not block.
	OnChunk func(direction Direction, size int)
}

// RelayResult reports how a Relay ended.
type RelayResult struct {
	// BytesAToB and BytesBToA count bytes written to each destination.
	BytesAToB int64
	BytesBToA int64

	// Err is the first error in either direction that was not a normal
	// close (see IsExpectedCloseError), or nil.
	Err error
}

// Relay copies bytes between a and b in both directions until both
// directions have finished. It does not close a or b on the success
// path beyond the half-closes; callers own final cleanup.
func Relay(a, b net.Conn, options RelayOptions) RelayResult {
	chunkSize := options.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var (
		result    RelayResult
		errorOnce sync.Once
		waitGroup sync.WaitGroup
	)
	recordError := func(err error) {
		if err != nil && !IsExpectedCloseError(err) {
			errorOnce.Do(func() { result.Err = err })
		}
	}

	run := func(direction Direction, destination, source net.Conn, total *int64) {
		defer waitGroup.Done()
		copied, err := pipe(destination, source, chunkSize, func(size int) {
			if options.OnChunk != nil {
				options.OnChunk(direction, size)
			}
		})
		*total = copied
		if err != nil {
			// Closing both sides unblocks the other direction, which
			// may be parked in a read that would otherwise never end.
			a.Close()
			b.Close()
			recordError(err)
			return
		}
		recordError(CloseWrite(destination))
	}

	waitGroup.Add(2)
	go run(AToB, b, a, &result.BytesAToB)
	go run(BToA, a, b, &result.BytesBToA)
	waitGroup.Wait()

	return result
}

// pipe copies source to destination one chunk at a time until source
// reports EOF (returns nil) or either side fails. Each chunk is written
// before the next read; nothing is buffered beyond one chunk.
func pipe(destination io.Writer, source io.Reader, chunkSize int, onChunk func(int)) (int64, error) {
	buffer := make([]byte, chunkSize)
	var total int64
	for {
		readCount, readError := source.Read(buffer)
		if readCount > 0 {
			writeCount, writeError := destination.Write(buffer[:readCount])
			total += int64(writeCount)
			if writeError == nil && writeCount != readCount {
				writeError = io.ErrShortWrite
			}
			if writeError != nil {
				return total, writeError
			}
			onChunk(readCount)
		}
		if readError != nil {
			if errors.Is(readError, io.EOF) {
				return total, nil
			}
			return total, readError
		}
	}
}
