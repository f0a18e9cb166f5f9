package pipeline

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rewired-gh/roundwatch/internal/clock"
	"github.com/rewired-gh/roundwatch/internal/models"
)

// maxFrameSize bounds a single length-prefixed frame.
const maxFrameSize = 16 << 20

// ReadLines streams newline-terminated lines from r, stamped with the clock's
// time on arrival. With follow set, EOF is treated as "no data yet": the
// reader polls every poll interval until ctx is done, so a growing log file
// can be tailed. A final unterminated line is delivered at EOF when not
// following.
//
// The line channel is closed when reading stops. The error channel receives
// at most one read error and is then closed.
func ReadLines(ctx context.Context, r io.Reader, clk clock.Clock, follow bool, poll time.Duration) (<-chan models.RawLine, <-chan error) {
	if clk == nil {
		clk = clock.Real()
	}
	out := make(chan models.RawLine, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(out)

		br := bufio.NewReaderSize(r, 64*1024)
		var partial strings.Builder
		for {
			chunk, err := br.ReadString('\n')
			partial.WriteString(chunk)

			if err == nil {
				text := strings.TrimRight(partial.String(), "\r\n")
				partial.Reset()
				if !send(ctx, out, models.RawLine{Text: text, ReceivedAt: clk.Now()}) {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				errc <- fmt.Errorf("failed to read input: %w", err)
				return
			}
			if !follow {
				if partial.Len() > 0 {
					send(ctx, out, models.RawLine{Text: strings.TrimRight(partial.String(), "\r"), ReceivedAt: clk.Now()})
				}
				return
			}
			if !wait(ctx, clk, poll) {
				return
			}
		}
	}()

	return out, errc
}

// ReadFrames streams frames from r, each prefixed with its length as an
// unsigned varint. Frame bytes are carried in RawLine.Text unchanged.
func ReadFrames(ctx context.Context, r io.Reader, clk clock.Clock) (<-chan models.RawLine, <-chan error) {
	if clk == nil {
		clk = clock.Real()
	}
	out := make(chan models.RawLine, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(out)

		br := bufio.NewReader(r)
		for {
			n, err := binary.ReadUvarint(br)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errc <- fmt.Errorf("failed to read frame length: %w", err)
				return
			}
			if n > maxFrameSize {
				errc <- fmt.Errorf("frame of %d bytes exceeds limit of %d", n, maxFrameSize)
				return
			}
			buf := make([]byte, n)
			if _, err := io.ReadFull(br, buf); err != nil {
				errc <- fmt.Errorf("failed to read frame: %w", err)
				return
			}
			if !send(ctx, out, models.RawLine{Text: string(buf), ReceivedAt: clk.Now()}) {
				return
			}
		}
	}()

	return out, errc
}

// AppendFrame appends frame to dst with its varint length prefix.
func AppendFrame(dst, frame []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(frame)))
	return append(dst, frame...)
}

func send(ctx context.Context, out chan<- models.RawLine, line models.RawLine) bool {
	select {
	case out <- line:
		return true
	case <-ctx.Done():
		return false
	}
}

func wait(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	ready := make(chan struct{})
	t := clk.AfterFunc(d, func() { close(ready) })
	select {
	case <-ready:
		return true
	case <-ctx.Done():
		t.Stop()
		return false
	}
}
