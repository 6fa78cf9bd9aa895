package pager

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// WAL is a physical write-ahead log: it records raw byte-range changes
// to pages, not logical operations, and is replayed by re-applying those
// byte ranges on open. Records are CRC32-framed so a torn tail write is
// detected rather than replayed.
type WAL struct {
	file     *os.File
	mu       sync.Mutex
	offset   int64
	flushed  int64
	filePath string
}

const (
	recordPageWrite  uint8 = 1
	recordCheckpoint uint8 = 2
)

// Record is one WAL entry: a byte range of a single page.
type Record struct {
	Type     uint8
	PageID   uint32
	Offset   uint32
	Length   uint32
	Data     []byte
	Checksum uint32
}

const (
	walMagic      = "RWAL"
	walVersion    = 1
	walHeaderSize = 8
)

// openWAL creates or opens a WAL file at path.
func openWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "pager: open WAL")
	}

	w := &WAL{file: file, filePath: path}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "pager: stat WAL")
	}

	if stat.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		w.offset = walHeaderSize
		w.flushed = walHeaderSize
	} else {
		if err := w.validateHeader(); err != nil {
			file.Close()
			return nil, err
		}
		off, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()
			return nil, errors.Wrap(err, "pager: seek WAL")
		}
		w.offset = off
		w.flushed = off
	}

	return w, nil
}

func (w *WAL) writeHeader() error {
	header := make([]byte, walHeaderSize)
	copy(header[0:4], []byte(walMagic))
	binary.LittleEndian.PutUint32(header[4:8], walVersion)
	_, err := w.file.WriteAt(header, 0)
	return errors.Wrap(err, "pager: write WAL header")
}

func (w *WAL) validateHeader() error {
	header := make([]byte, walHeaderSize)
	if _, err := w.file.ReadAt(header, 0); err != nil {
		return errors.Wrap(err, "pager: read WAL header")
	}
	if string(header[0:4]) != walMagic {
		return errors.Errorf("pager: bad WAL magic %q", header[0:4])
	}
	if binary.LittleEndian.Uint32(header[4:8]) != walVersion {
		return errors.New("pager: unsupported WAL version")
	}
	return nil
}

// LogPageWrite appends a physical page-range record.
func (w *WAL) LogPageWrite(pageID uint32, offset uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := &Record{Type: recordPageWrite, PageID: pageID, Offset: offset, Length: uint32(len(data)), Data: data}
	r.Checksum = checksum(r)
	encoded := encodeRecord(r)

	if _, err := w.file.WriteAt(encoded, w.offset); err != nil {
		return errors.Wrap(err, "pager: write WAL record")
	}
	w.offset += int64(len(encoded))
	return nil
}

// LogCheckpoint writes a checkpoint marker; ReadAll stops at the first one.
func (w *WAL) LogCheckpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := &Record{Type: recordCheckpoint}
	r.Checksum = checksum(r)
	encoded := encodeRecord(r)
	if _, err := w.file.WriteAt(encoded, w.offset); err != nil {
		return errors.Wrap(err, "pager: write WAL checkpoint")
	}
	w.offset += int64(len(encoded))
	return nil
}

func encodeRecord(r *Record) []byte {
	size := 1 + 4 + 4 + 4 + len(r.Data) + 4
	buf := make([]byte, size)
	buf[0] = r.Type
	binary.LittleEndian.PutUint32(buf[1:5], r.PageID)
	binary.LittleEndian.PutUint32(buf[5:9], r.Offset)
	binary.LittleEndian.PutUint32(buf[9:13], r.Length)
	copy(buf[13:13+len(r.Data)], r.Data)
	binary.LittleEndian.PutUint32(buf[size-4:], r.Checksum)
	return buf
}

func decodeRecord(buf []byte) (*Record, error) {
	if len(buf) < 17 {
		return nil, errors.Errorf("pager: WAL record too short (%d bytes)", len(buf))
	}
	r := &Record{
		Type:   buf[0],
		PageID: binary.LittleEndian.Uint32(buf[1:5]),
		Offset: binary.LittleEndian.Uint32(buf[5:9]),
		Length: binary.LittleEndian.Uint32(buf[9:13]),
	}
	if r.Length > 0 {
		if len(buf) < 13+int(r.Length)+4 {
			return nil, errors.Errorf("pager: incomplete WAL record: want %d bytes, got %d", 13+int(r.Length)+4, len(buf))
		}
		r.Data = make([]byte, r.Length)
		copy(r.Data, buf[13:13+r.Length])
	}
	r.Checksum = binary.LittleEndian.Uint32(buf[13+r.Length:])
	if want := checksum(r); want != r.Checksum {
		return nil, errors.Errorf("pager: WAL checksum mismatch: want %d, got %d", want, r.Checksum)
	}
	return r, nil
}

func checksum(r *Record) uint32 {
	h := crc32.NewIEEE()
	buf := make([]byte, 13)
	buf[0] = r.Type
	binary.LittleEndian.PutUint32(buf[1:5], r.PageID)
	binary.LittleEndian.PutUint32(buf[5:9], r.Offset)
	binary.LittleEndian.PutUint32(buf[9:13], r.Length)
	h.Write(buf)
	h.Write(r.Data)
	return h.Sum32()
}

// Sync fsyncs the WAL file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(err, "pager: sync WAL")
	}
	w.flushed = w.offset
	return nil
}

// ReadAll reads every record up to and including the first checkpoint
// marker, for replay on open.
func (w *WAL) ReadAll() ([]*Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var records []*Record
	offset := int64(walHeaderSize)

	for offset < w.offset {
		header := make([]byte, 13)
		if _, err := w.file.ReadAt(header, offset); err != nil {
			if err == io.EOF {
				break
			}
			return records, errors.Wrapf(err, "pager: read WAL record header at %d", offset)
		}

		recordType := header[0]
		length := binary.LittleEndian.Uint32(header[9:13])
		recordSize := 13 + int(length) + 4

		full := make([]byte, recordSize)
		if _, err := w.file.ReadAt(full, offset); err != nil {
			if err == io.EOF {
				break
			}
			return records, errors.Wrapf(err, "pager: read WAL record at %d", offset)
		}

		record, err := decodeRecord(full)
		if err != nil {
			return records, errors.Wrapf(err, "pager: corrupted WAL record at %d", offset)
		}

		records = append(records, record)
		offset += int64(recordSize)

		if recordType == recordCheckpoint {
			break
		}
	}

	return records, nil
}

// Truncate discards all records after a checkpoint, leaving an empty log.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Close(); err != nil {
		return errors.Wrap(err, "pager: close WAL before truncate")
	}
	file, err := os.OpenFile(w.filePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "pager: reopen WAL for truncate")
	}
	w.file = file
	if err := w.writeHeader(); err != nil {
		return err
	}
	w.offset = walHeaderSize
	w.flushed = walHeaderSize
	return nil
}

// Close syncs and closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(err, "pager: sync WAL on close")
	}
	return w.file.Close()
}

// Size returns the current WAL length in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}
