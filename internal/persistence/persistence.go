// Package persistence implements the byte-addressable store the control
// core writes its configuration and counters to every 6 hours of uptime.
// Grounded in original_source/src/eeprom.{h,cpp}'s versioned-blob layout,
// rendered as a flat file instead of real EEPROM.
//
// The fixed 8-byte header (version, payload length, CRC32) uses
// encoding/binary and hash/crc32 directly: no example repo in the corpus
// carries a purpose-built binary-blob persistence library, and this wire
// format is a fixed small struct rather than a general serialization
// problem, so the standard library is the right tool here (see DESIGN.md).
package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
)

// layoutVersion is the persisted blob format version this package writes
// and expects to read; a mismatch is treated the same as corruption.
const layoutVersion = 1

// headerSize is the fixed 8-byte header: 2-byte version, 2-byte payload
// length, 4-byte CRC32.
const headerSize = 8

// ErrCorrupt is returned by Read when the stored CRC does not match the
// payload, or the layout version is one this package does not understand.
var ErrCorrupt = errors.New("persistence: corrupt or unrecognized blob")

// Store is the persistence collaborator contract: a single versioned blob
// slot, read and written whole.
type Store interface {
	Write(payload []byte) error
	Read() ([]byte, error)
}

// FileStore is the in-tree Store implementation: the blob lives as the
// entire content of one file on disk.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore backed by path; the file is created on
// first Write if it does not already exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Write encodes payload behind the fixed header and writes it atomically
// (write to a temp file, then rename) so a crash mid-write never leaves a
// half-written blob on disk.
func (s *FileStore) Write(payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("persistence: payload too large (%d bytes)", len(payload))
	}

	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], layoutVersion)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	copy(buf[headerSize:], payload)

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return fmt.Errorf("persistence: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("persistence: rename into place: %w", err)
	}
	return nil
}

// Read decodes the stored blob, returning ErrCorrupt if the version is
// unrecognized, the declared length doesn't match what's on disk, or the
// CRC fails to verify.
func (s *FileStore) Read() ([]byte, error) {
	buf, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("persistence: read file: %w", err)
	}
	if len(buf) < headerSize {
		return nil, ErrCorrupt
	}

	version := binary.BigEndian.Uint16(buf[0:2])
	length := binary.BigEndian.Uint16(buf[2:4])
	storedCRC := binary.BigEndian.Uint32(buf[4:8])

	if version != layoutVersion {
		return nil, ErrCorrupt
	}
	if headerSize+int(length) != len(buf) {
		return nil, ErrCorrupt
	}

	payload := buf[headerSize:]
	if crc32.ChecksumIEEE(payload) != storedCRC {
		return nil, ErrCorrupt
	}
	return payload, nil
}

// Memory is an in-memory Store used in tests in place of a real file, so
// the ambient-stack test suite never touches disk (spec §8's S8).
type Memory struct {
	buf bytes.Buffer
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Write(payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("persistence: payload too large (%d bytes)", len(payload))
	}
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint16(header[0:2], layoutVersion)
	binary.BigEndian.PutUint16(header[2:4], uint16(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	m.buf.Reset()
	m.buf.Write(header)
	m.buf.Write(payload)
	return nil
}

func (m *Memory) Read() ([]byte, error) {
	buf := m.buf.Bytes()
	if len(buf) < headerSize {
		return nil, ErrCorrupt
	}
	version := binary.BigEndian.Uint16(buf[0:2])
	length := binary.BigEndian.Uint16(buf[2:4])
	storedCRC := binary.BigEndian.Uint32(buf[4:8])

	if version != layoutVersion || headerSize+int(length) != len(buf) {
		return nil, ErrCorrupt
	}
	payload := buf[headerSize:]
	if crc32.ChecksumIEEE(payload) != storedCRC {
		return nil, ErrCorrupt
	}
	return payload, nil
}

// CorruptByte inverts every bit of the payload byte at offset in m's stored
// blob (a no-op if offset is past the end), for
// tests that exercise ErrCorrupt (spec §8's S8).
func (m *Memory) CorruptByte(offset int) {
	buf := m.buf.Bytes()
	if headerSize+offset < len(buf) {
		buf[headerSize+offset] ^= 0xFF
	}
}
