/*
 stream.go

 GNU GENERAL PUBLIC LICENSE
 Version 3, 29 June 2007
 Copyright (C) 2024 Jack Ng <jack.ng.ca@gmail.com>

 This program is free software: you can redistribute it and/or modify
 it under the terms of the GNU General Public License as published by
 the Free Software Foundation, either version 3 of the License, or
 (at your option) any later version.

 This program is distributed in the hope that it will be useful,
 but WITHOUT ANY WARRANTY; without even the implied warranty of
 MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 GNU General Public License for more details.

 You should have received a copy of the GNU General Public License
 along with this program.  If not, see <https://www.gnu.org/licenses/> */

package fs

import (
	"io"

	"github.com/coreflash/flashfs/core"
)

// OpenMode mirrors the six variants in §6: CreateNew fails if the name
// exists, Create truncates-or-creates, Open fails if missing,
// OpenOrCreate does either, Truncate fails-then-empties, Append
// creates-if-missing and seeks to the end.
type OpenMode int

const (
	ModeCreateNew OpenMode = iota
	ModeCreate
	ModeOpen
	ModeOpenOrCreate
	ModeTruncate
	ModeAppend
)

// DefaultStreamBuffer is the default buffer_size argument to Create/Open.
// Host-side stream buffering is an explicit Non-goal (§1) — this value
// only exists so callers have a conventional default to pass; Stream
// itself reads and writes a cluster at a time regardless.
const DefaultStreamBuffer = 4096

// Stream is a seekable, byte-oriented handle onto one open file. Every
// method takes FileSystem's lock itself and then calls straight into the
// unexported, already-locked FileOps helpers (readAt/writeAt/
// truncateLocked) — it never calls back into FileSystem's own locked
// public entry points, so there is exactly one lock acquisition per call
// and no re-entrancy to reason about.
type Stream struct {
	fsys   *FileSystem
	file   *core.FileRef
	pos    int64
	closed bool
}

func newStream(fsys *FileSystem, file *core.FileRef, bufferSize int) *Stream {
	_ = bufferSize
	return &Stream{fsys: fsys, file: file}
}

func (s *Stream) checkOpen() error {
	if s.closed {
		return &core.Error{Kind: core.KindArgumentOutOfRange, Msg: "stream is closed"}
	}
	return nil
}

// Read fills p starting at the stream's current position and advances
// it by the number of bytes read. A read starting at or past end-of-file
// returns (0, io.EOF); per §6 a mid-file read that simply runs out of
// file returns its partial count with no error, matching io.Reader's
// "a filled buffer is not an error" convention.
func (s *Stream) Read(p []byte) (int, error) {
	s.fsys.mu.Lock()
	defer s.fsys.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if s.pos >= int64(s.file.FileSize) {
		return 0, io.EOF
	}
	n, err := s.fsys.readAt(s.file, s.pos, p)
	s.pos += int64(n)
	return n, err
}

// Write writes p at the stream's current position and advances it.
func (s *Stream) Write(p []byte) (int, error) {
	s.fsys.mu.Lock()
	defer s.fsys.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	n, err := s.fsys.writeAt(s.file, s.pos, p)
	s.pos += int64(n)
	return n, err
}

// Seek repositions the stream. Seeking past the end of the file is
// allowed (a subsequent Write there fails with WritePastEnd, since holes
// are disallowed); seeking negative is not.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.fsys.mu.Lock()
	defer s.fsys.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = int64(s.file.FileSize) + offset
	default:
		return 0, &core.Error{Kind: core.KindArgumentOutOfRange, Msg: "unknown seek whence"}
	}
	if newPos < 0 {
		return 0, &core.Error{Kind: core.KindArgumentOutOfRange, Msg: "negative seek position"}
	}
	s.pos = newPos
	return s.pos, nil
}

// Length returns the file's current size.
func (s *Stream) Length() int64 {
	s.fsys.mu.Lock()
	defer s.fsys.mu.Unlock()
	return int64(s.file.FileSize)
}

// SetLength truncates the file. It cannot grow one (holes are
// disallowed throughout §4.D, so there is no well-defined content to
// grow into).
func (s *Stream) SetLength(length int64) error {
	s.fsys.mu.Lock()
	defer s.fsys.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if length > int64(s.file.FileSize) {
		return &core.Error{Kind: core.KindWritePastEnd, Msg: "SetLength cannot grow a file"}
	}
	if err := s.fsys.truncateLocked(s.file, length); err != nil {
		return err
	}
	if s.pos > length {
		s.pos = length
	}
	return nil
}

// Close decrements the file's open_count. Closing an already-closed
// stream is a no-op.
func (s *Stream) Close() error {
	s.fsys.mu.Lock()
	defer s.fsys.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file.OpenCount > 0 {
		s.file.OpenCount--
	}
	return nil
}
