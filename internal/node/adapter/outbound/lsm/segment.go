package lsm

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultMaxSegmentSize is 64MB
	DefaultMaxSegmentSize = 64 * 1024 * 1024
	SegmentPrefix         = "segment_"
	SegmentSuffix         = ".log"

	maxKeyLen  = 64 * 1024
	maxDataLen = 16 * 1024 * 1024
)

var errCorruptRecord = errors.New("corrupt record")

// Record layout: Key_Len (4) | Key (N) | Data_Len (4) | Data (M) | Checksum (4)
func encodeRecord(key string, data []byte) ([]byte, error) {
	if len(key) == 0 || len(key) > maxKeyLen {
		return nil, fmt.Errorf("key length %d out of range", len(key))
	}
	if len(data) > maxDataLen {
		return nil, fmt.Errorf("row of %d bytes exceeds limit", len(data))
	}
	buf := make([]byte, 4+len(key)+4+len(data)+4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(key))) // #nosec G115
	copy(buf[4:], key)
	off := 4 + len(key)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(data))) // #nosec G115
	copy(buf[off+4:], data)
	binary.BigEndian.PutUint32(buf[len(buf)-4:], checksum(data))
	return buf, nil
}

func checksum(data []byte) uint32 {
	return uint32(xxhash.Sum64(data)) // #nosec G115
}

// decodeRecordAt reads the record starting at offset.
func decodeRecordAt(f *os.File, offset, size int64) (string, []byte, error) {
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return "", nil, err
	}
	return decodeRecord(buf)
}

func decodeRecord(buf []byte) (string, []byte, error) {
	if len(buf) < 12 {
		return "", nil, errCorruptRecord
	}
	keyLen := int(binary.BigEndian.Uint32(buf[0:4]))
	if keyLen <= 0 || 4+keyLen+8 > len(buf) {
		return "", nil, errCorruptRecord
	}
	key := string(buf[4 : 4+keyLen])
	off := 4 + keyLen
	dataLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
	if off+4+dataLen+4 != len(buf) {
		return "", nil, errCorruptRecord
	}
	data := buf[off+4 : off+4+dataLen]
	if binary.BigEndian.Uint32(buf[len(buf)-4:]) != checksum(data) {
		return "", nil, errCorruptRecord
	}
	return key, data, nil
}

// scanRecords calls fn for every intact record of r in order and returns
// the number of valid bytes. A torn or corrupt tail stops the scan.
func scanRecords(r io.Reader, fn func(key string, data []byte, offset, size int64) error) (int64, bool, error) {
	reader := bufio.NewReader(r)
	offset := int64(0)
	header := make([]byte, 4)

	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			if errors.Is(err, io.EOF) {
				return offset, false, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return offset, true, nil
			}
			return offset, false, fmt.Errorf("failed to read key len: %w", err)
		}
		keyLen := int64(binary.BigEndian.Uint32(header))
		if keyLen <= 0 || keyLen > maxKeyLen {
			return offset, true, nil
		}

		keyBuf := make([]byte, keyLen)
		if _, err := io.ReadFull(reader, keyBuf); err != nil {
			return offset, true, nil
		}
		if _, err := io.ReadFull(reader, header); err != nil {
			return offset, true, nil
		}
		dataLen := int64(binary.BigEndian.Uint32(header))
		if dataLen > maxDataLen {
			return offset, true, nil
		}
		data := make([]byte, dataLen)
		if _, err := io.ReadFull(reader, data); err != nil {
			return offset, true, nil
		}
		if _, err := io.ReadFull(reader, header); err != nil {
			return offset, true, nil
		}
		if binary.BigEndian.Uint32(header) != checksum(data) {
			return offset, true, nil
		}

		size := 4 + keyLen + 4 + dataLen + 4
		if err := fn(string(keyBuf), data, offset, size); err != nil {
			return offset, false, err
		}
		offset += size
	}
}

func segmentName(id uint64) string {
	return fmt.Sprintf("%s%05d%s", SegmentPrefix, id, SegmentSuffix)
}

// listSegments returns the segment IDs found in dir in ascending order.
func listSegments(dir string) ([]uint64, error) {
	matches, err := filepath.Glob(filepath.Join(dir, SegmentPrefix+"*"+SegmentSuffix))
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(matches))
	for _, m := range matches {
		var id uint64
		if _, err := fmt.Sscanf(filepath.Base(m), SegmentPrefix+"%d"+SegmentSuffix, &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
