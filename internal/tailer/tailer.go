package tailer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// maxChunk bounds how much one poll reads. The rest is picked up next poll.
const maxChunk = 4 << 20

// LogReadError wraps a failure to stat or read the tailed file.
type LogReadError struct {
	Path string
	Err  error
}

func (e *LogReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *LogReadError) Unwrap() error {
	return e.Err
}

type Tailer struct {
	path    string
	offset  int64
	info    os.FileInfo
	fromEnd bool
	started bool
	resets  int
}

// New tails path. With fromEnd set, content already present on the first
// successful poll is skipped.
func New(path string, fromEnd bool) *Tailer {
	return &Tailer{
		path:    path,
		fromEnd: fromEnd,
	}
}

func (t *Tailer) Path() string {
	return t.path
}

// Offset returns the byte position of the next unread line.
func (t *Tailer) Offset() int64 {
	return t.offset
}

// Resets counts truncations and rotations observed so far.
func (t *Tailer) Resets() int {
	return t.resets
}

// Poll returns the complete lines appended since the last call.
func (t *Tailer) Poll() ([]string, error) {
	info, err := os.Stat(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// a file that appears later is read from its start
			t.started = true
			return nil, nil
		}
		return nil, &LogReadError{Path: t.path, Err: err}
	}

	if !t.started {
		t.started = true
		t.info = info
		if t.fromEnd {
			offset, err := lastLineEnd(t.path, info.Size())
			if err != nil {
				return nil, &LogReadError{Path: t.path, Err: err}
			}
			t.offset = offset
			return nil, nil
		}
	}

	if t.info != nil && !os.SameFile(t.info, info) {
		t.reset()
	} else if info.Size() < t.offset {
		t.reset()
	}
	t.info = info

	if info.Size() == t.offset {
		return nil, nil
	}

	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &LogReadError{Path: t.path, Err: err}
	}
	defer f.Close()

	size := info.Size() - t.offset
	if size > maxChunk {
		size = maxChunk
	}

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, t.offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &LogReadError{Path: t.path, Err: err}
	}
	buf = buf[:n]

	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		if len(buf) >= maxChunk {
			// an unterminated line this long is dropped
			t.offset += int64(len(buf))
		}
		return nil, nil
	}

	chunk := buf[:last]
	t.offset += int64(last + 1)

	raw := bytes.Split(chunk, []byte{'\n'})
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = bytes.TrimRight(l, "\r")
		if len(l) == 0 {
			continue
		}
		lines = append(lines, string(l))
	}

	return lines, nil
}

// lastLineEnd returns the offset just past the last newline before size, so
// a line still being written when tailing starts is read once complete.
// Without a newline in the last maxChunk bytes it returns size.
func lastLineEnd(path string, size int64) (int64, error) {
	if size == 0 {
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	from := max(size-maxChunk, 0)
	buf := make([]byte, size-from)
	n, err := f.ReadAt(buf, from)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}

	last := bytes.LastIndexByte(buf[:n], '\n')
	if last < 0 {
		if from == 0 {
			return 0, nil
		}
		return size, nil
	}
	return from + int64(last) + 1, nil
}

func (t *Tailer) reset() {
	t.offset = 0
	t.resets++
}
