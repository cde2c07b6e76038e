package bot

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"time"
)

// errReadTimeout signals that no complete line arrived within one poll
// interval. Callers treat it as "check for shutdown, then keep reading".
var errReadTimeout = errors.New("read timeout")

const readerBufferSize = 4096

// lineReader assembles CRLF-terminated lines from a connection. Reads are
// bounded by short deadlines so the owning loop stays responsive, and bytes
// of a partially received line are held in pending across deadline cycles
// rather than dropped.
type lineReader struct {
	conn     net.Conn
	r        *bufio.Reader
	pending  []byte
	dataTime time.Time
}

func newLineReader(conn net.Conn) *lineReader {
	return &lineReader{
		conn:     conn,
		r:        bufio.NewReaderSize(conn, readerBufferSize),
		dataTime: time.Now(),
	}
}

// next returns the next complete line with its trailing CRLF removed. It
// waits at most wait for new bytes; if a full line has not arrived by then
// it returns errReadTimeout and keeps any partial data buffered for the
// following call.
func (lr *lineReader) next(wait time.Duration) (string, error) {
	deadline := time.Now().Add(wait)
	for {
		if err := lr.conn.SetReadDeadline(deadline); err != nil {
			return "", err
		}
		chunk, err := lr.r.ReadSlice('\n')
		if len(chunk) > 0 {
			lr.pending = append(lr.pending, chunk...)
			lr.dataTime = time.Now()
		}
		if err == nil {
			line := lr.pending
			lr.pending = nil
			return string(trimLineEnding(line)), nil
		}
		if err == bufio.ErrBufferFull {
			// Line longer than the buffer; keep accumulating.
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", errReadTimeout
		}
		return "", err
	}
}

func trimLineEnding(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}
