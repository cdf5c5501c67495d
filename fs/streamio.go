/*
 streamio.go

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
	"crypto/rand"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"time"
)

// DataProvider and DataConsumer are kept from the teacher's own
// streaming-I/O helper: WriteStream/ReadStream want "produce or consume
// batches of bytes, report a checksum at the end" without caring whether
// the bytes come from /dev/urandom, a host file, or nowhere at all. The
// CLI's -put/-get commands go through these rather than ReadAllBytes/
// WriteAllBytes so a file larger than memory still streams in bounded
// batches.
type DataProvider interface {
	Provide() ([]byte, error)
	Close() (uint32, error)
}

type DataConsumer interface {
	Consume(data []byte) error
	Close() (uint32, error)
}

// RandomDataProvider hands out batches of random bytes up to totalSize,
// tracking a running CRC32 so a round trip through Stream can be checked
// without holding the whole payload in memory twice. Used by the
// streaming property tests.
type RandomDataProvider struct {
	data         []byte
	totalSize    int64
	offset       int64
	genEachBatch bool
	hash         hash.Hash32
}

func NewRandomDataProvider(batchSize, totalSize int64, genEachBatch bool) (*RandomDataProvider, error) {
	r := &RandomDataProvider{
		totalSize:    totalSize,
		data:         make([]byte, batchSize),
		genEachBatch: genEachBatch,
		hash:         crc32.New(crc32.MakeTable(crc32.IEEE)),
	}
	if _, err := rand.Read(r.data); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RandomDataProvider) Provide() ([]byte, error) {
	if r.offset >= r.totalSize {
		return nil, io.EOF
	}
	if r.genEachBatch && r.offset != 0 {
		if _, err := rand.Read(r.data); err != nil {
			return nil, err
		}
	}
	n := int64(len(r.data))
	if r.offset+n > r.totalSize {
		n = r.totalSize - r.offset
	}
	r.offset += n
	r.hash.Write(r.data[:n])
	return r.data[:n], nil
}

func (r *RandomDataProvider) Close() (uint32, error) {
	return r.hash.Sum32(), nil
}

// FileDataProvider streams an existing host file's bytes in batchSize
// chunks. runPut uses this to import a local file without reading it
// into memory all at once.
type FileDataProvider struct {
	data []byte
	file *os.File
	hash hash.Hash32
}

func NewFileDataProvider(path string, batchSize int64) (*FileDataProvider, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	return &FileDataProvider{
		data: make([]byte, batchSize),
		file: file,
		hash: crc32.New(crc32.MakeTable(crc32.IEEE)),
	}, nil
}

func (f *FileDataProvider) Provide() ([]byte, error) {
	n, err := f.file.Read(f.data)
	if err != nil {
		return nil, err
	}
	f.hash.Write(f.data[:n])
	return f.data[:n], nil
}

func (f *FileDataProvider) Close() (uint32, error) {
	f.file.Close()
	return f.hash.Sum32(), nil
}

// FileDataConsumer writes received batches straight through to a host
// file, the read-side counterpart to FileDataProvider. runGet uses this
// to export a file without buffering its whole contents in memory.
type FileDataConsumer struct {
	file *os.File
	hash hash.Hash32
}

func NewFileDataConsumer(path string) (*FileDataConsumer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %v", err)
	}
	return &FileDataConsumer{
		file: file,
		hash: crc32.New(crc32.MakeTable(crc32.IEEE)),
	}, nil
}

func (c *FileDataConsumer) Consume(data []byte) error {
	if _, err := c.file.Write(data); err != nil {
		return err
	}
	c.hash.Write(data)
	return nil
}

func (c *FileDataConsumer) Close() (uint32, error) {
	err := c.file.Close()
	return c.hash.Sum32(), err
}

// NullDataConsumer discards bytes, only accumulating a checksum. Used by
// the streaming property tests, which care about throughput and
// round-trip integrity rather than the bytes themselves.
type NullDataConsumer struct {
	hash hash.Hash32
}

func NewNullDataConsumer() *NullDataConsumer {
	return &NullDataConsumer{hash: crc32.New(crc32.MakeTable(crc32.IEEE))}
}

func (c *NullDataConsumer) Consume(data []byte) error {
	c.hash.Write(data)
	return nil
}

func (c *NullDataConsumer) Close() (uint32, error) {
	return c.hash.Sum32(), nil
}

// WriteStream drains a DataProvider into a freshly opened Stream, the
// streaming counterpart to WriteAllBytes for payloads too big to hold in
// memory as a single []byte.
func WriteStream(fsys *FileSystem, name string, dp DataProvider, echo bool) (int64, uint32, error) {
	s, err := fsys.Open(name, ModeCreate, DefaultStreamBuffer)
	if err != nil {
		return 0, 0, err
	}
	defer s.Close()

	var written int64
	start := time.Now()
	for {
		data, err := dp.Provide()
		if err != nil {
			if err != io.EOF {
				return written, 0, err
			}
			break
		}
		n, err := s.Write(data)
		if err != nil {
			return written, 0, err
		}
		written += int64(n)
	}
	sum, _ := dp.Close()
	if echo {
		fmt.Printf("file written: [name:%s size:%d time:%.3fs]\n", name, written, time.Since(start).Seconds())
	}
	return written, sum, nil
}

// ReadStream drains a Stream into a DataConsumer in bounded-size batches.
func ReadStream(fsys *FileSystem, name string, dc DataConsumer, batchSize int64, echo bool) (int64, uint32, error) {
	s, err := fsys.Open(name, ModeOpen, DefaultStreamBuffer)
	if err != nil {
		return 0, 0, err
	}
	defer s.Close()

	buf := make([]byte, batchSize)
	var read int64
	start := time.Now()
	for {
		n, err := s.Read(buf)
		if n > 0 {
			if cerr := dc.Consume(buf[:n]); cerr != nil {
				return read, 0, cerr
			}
			read += int64(n)
		}
		if err != nil {
			if err != io.EOF {
				return read, 0, err
			}
			break
		}
		if n == 0 {
			break
		}
	}
	sum, _ := dc.Close()
	if echo {
		fmt.Printf("file read: [name:%s size:%d time:%.3fs]\n", name, read, time.Since(start).Seconds())
	}
	return read, sum, nil
}
