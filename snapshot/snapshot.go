// Package snapshot persists collections to durable blob storage and restores
// them, rebuilding from raw records when a serialized engine is corrupt.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var magic = [8]byte{'A', 'G', 'D', 'B', 'S', 'N', 'A', 'P'}

const formatVersion = 1

// ErrCorrupt indicates a snapshot section that failed its integrity check.
type ErrCorrupt struct {
	Section string
	Reason  string
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("snapshot: section %q corrupt: %s", e.Section, e.Reason)
}

// Section is one named payload inside a snapshot container.
type Section struct {
	Name string
	Data []byte
}

// Encode writes sections into a single container. Each section is compressed
// independently and carries a CRC32 over the stored bytes, so corruption is
// attributed to a section rather than the whole file. Sections that do not
// shrink under compression are stored raw.
func Encode(sections []Section, c Compression) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(formatVersion)

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(sections)))
	buf.Write(count[:])

	for _, s := range sections {
		codec := c
		stored, err := compress(s.Data, c)
		if err != nil {
			return nil, fmt.Errorf("snapshot: compress section %q: %w", s.Name, err)
		}
		if stored == nil || len(stored) >= len(s.Data) {
			codec = CompressionNone
			stored = s.Data
		}

		if len(s.Name) > 0xffff {
			return nil, fmt.Errorf("snapshot: section name too long")
		}
		var hdr [2]byte
		binary.LittleEndian.PutUint16(hdr[:], uint16(len(s.Name)))
		buf.Write(hdr[:])
		buf.WriteString(s.Name)
		buf.WriteByte(byte(codec))

		var sizes [12]byte
		binary.LittleEndian.PutUint32(sizes[0:], uint32(len(s.Data)))
		binary.LittleEndian.PutUint32(sizes[4:], crc32.ChecksumIEEE(stored))
		binary.LittleEndian.PutUint32(sizes[8:], uint32(len(stored)))
		buf.Write(sizes[:])
		buf.Write(stored)
	}
	return buf.Bytes(), nil
}

// Decode parses a container into its sections. A section whose checksum or
// decompression fails yields an ErrCorrupt carrying its name; the remaining
// sections are still returned so callers can salvage what survived.
func Decode(data []byte) ([]Section, error) {
	r := bytes.NewReader(data)

	var m [8]byte
	if _, err := io.ReadFull(r, m[:]); err != nil || m != magic {
		return nil, &ErrCorrupt{Section: "header", Reason: "bad magic"}
	}
	ver, err := r.ReadByte()
	if err != nil {
		return nil, &ErrCorrupt{Section: "header", Reason: "truncated"}
	}
	if ver != formatVersion {
		return nil, fmt.Errorf("snapshot: unsupported format version %d", ver)
	}

	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, &ErrCorrupt{Section: "header", Reason: "truncated"}
	}
	n := binary.LittleEndian.Uint32(count[:])

	var sections []Section
	var firstErr error
	for i := uint32(0); i < n; i++ {
		var hdr [2]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return sections, joinCorrupt(firstErr, &ErrCorrupt{Section: "header", Reason: "truncated section"})
		}
		name := make([]byte, binary.LittleEndian.Uint16(hdr[:]))
		if _, err := io.ReadFull(r, name); err != nil {
			return sections, joinCorrupt(firstErr, &ErrCorrupt{Section: "header", Reason: "truncated section name"})
		}
		codecByte, err := r.ReadByte()
		if err != nil {
			return sections, joinCorrupt(firstErr, &ErrCorrupt{Section: string(name), Reason: "truncated"})
		}

		var sizes [12]byte
		if _, err := io.ReadFull(r, sizes[:]); err != nil {
			return sections, joinCorrupt(firstErr, &ErrCorrupt{Section: string(name), Reason: "truncated"})
		}
		rawSize := binary.LittleEndian.Uint32(sizes[0:])
		sum := binary.LittleEndian.Uint32(sizes[4:])
		storedSize := binary.LittleEndian.Uint32(sizes[8:])

		stored := make([]byte, storedSize)
		if _, err := io.ReadFull(r, stored); err != nil {
			return sections, joinCorrupt(firstErr, &ErrCorrupt{Section: string(name), Reason: "truncated payload"})
		}

		if crc32.ChecksumIEEE(stored) != sum {
			firstErr = joinCorrupt(firstErr, &ErrCorrupt{Section: string(name), Reason: "checksum mismatch"})
			continue
		}
		payload, err := decompress(stored, Compression(codecByte), rawSize)
		if err != nil {
			firstErr = joinCorrupt(firstErr, &ErrCorrupt{Section: string(name), Reason: err.Error()})
			continue
		}
		sections = append(sections, Section{Name: string(name), Data: payload})
	}
	return sections, firstErr
}

func joinCorrupt(first, next error) error {
	if first == nil {
		return next
	}
	return first
}

// CorruptSection reports whether err marks the named section as corrupt.
func CorruptSection(err error, name string) bool {
	var ce *ErrCorrupt
	return errors.As(err, &ce) && ce.Section == name
}
