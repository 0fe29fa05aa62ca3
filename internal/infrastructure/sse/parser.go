package sse

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

// Event is one dispatched server-sent event.
type Event struct {
	ID    string
	Name  string
	Data  string
	Retry time.Duration
}

// DefaultMaxLine bounds a single stream line. Events may span several data
// lines up to four times that.
const DefaultMaxLine = 1 << 20

// ErrTooLong is returned when a line or an event exceeds the reader limits.
var ErrTooLong = errors.New("sse: event stream line or event too long")

// Reader decodes a text/event-stream body.
type Reader struct {
	r        *bufio.Reader
	maxLine  int
	maxEvent int
}

func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultMaxLine)
}

// NewReaderSize returns a reader that rejects lines longer than maxLine bytes.
func NewReaderSize(r io.Reader, maxLine int) *Reader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	return &Reader{
		r:        bufio.NewReaderSize(r, min(maxLine, 64*1024)),
		maxLine:  maxLine,
		maxEvent: 4 * maxLine,
	}
}

// Next blocks until a complete event is available. Comment-only and empty
// blocks are skipped. A block not terminated by a blank line is discarded
// and io.EOF or io.ErrUnexpectedEOF is returned.
func (r *Reader) Next() (Event, error) {
	var (
		ev      Event
		data    strings.Builder
		hasData bool
	)
	for {
		line, err := r.readLine()
		if err != nil {
			return Event{}, err
		}

		if line == "" {
			if hasData {
				ev.Data = data.String()
				return ev, nil
			}
			ev = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
			if data.Len() > r.maxEvent {
				return Event{}, ErrTooLong
			}
		case "event":
			ev.Name = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				ev.ID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				ev.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
}

// readLine stops buffering as soon as the line exceeds maxLine.
func (r *Reader) readLine() (string, error) {
	var line []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > r.maxLine+len("\r\n") {
			return "", ErrTooLong
		}
		switch {
		case err == nil:
			s := strings.TrimSuffix(strings.TrimSuffix(string(line), "\n"), "\r")
			if len(s) > r.maxLine {
				return "", ErrTooLong
			}
			return s, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == io.EOF && len(line) > 0:
			return "", io.ErrUnexpectedEOF
		default:
			return "", err
		}
	}
}
