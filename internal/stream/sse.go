package stream

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"codeberg.org/mutker/fluxdash/internal/errors"
)

// SSETransport subscribes with a long-lived GET and reads text/event-stream
// framing. Lines outside an event are taken as newline-delimited JSON frames.
type SSETransport struct {
	endpoint    *url.URL
	tokenParam  string
	client      *http.Client
	maxFrame    int
	idleTimeout time.Duration
}

func newSSETransport(endpoint *url.URL, cfg Config, client *http.Client) *SSETransport {
	maxFrame := cfg.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrameBytes
	}
	return &SSETransport{
		endpoint:    endpoint,
		tokenParam:  cfg.TokenParam,
		client:      client,
		maxFrame:    maxFrame,
		idleTimeout: cfg.IdleTimeout,
	}
}

func (t *SSETransport) Open(ctx context.Context, token string) (FrameReader, error) {
	errFactory := errors.New()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, withToken(t.endpoint, t.tokenParam, token), nil)
	if err != nil {
		return nil, errFactory.Wrap(ErrDial, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errFactory.Wrap(ErrDial, err)
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		code := ErrDial
		if isAuthStatus(resp.StatusCode) {
			code = ErrUnauthorized
		}
		return nil, errFactory.WithData(code, struct {
			Status int
		}{resp.StatusCode})
	}

	return newSSEReader(resp.Body, t.maxFrame, t.idleTimeout), nil
}

type sseReader struct {
	body     io.ReadCloser
	br       *bufio.Reader
	maxFrame int
	line     []byte
	idle     time.Duration
	timer    *time.Timer
	once     sync.Once
}

func newSSEReader(body io.ReadCloser, maxFrame int, idle time.Duration) *sseReader {
	r := &sseReader{
		body:     body,
		br:       bufio.NewReaderSize(body, min(4096, maxFrame)),
		maxFrame: maxFrame,
		idle:     idle,
	}
	if idle > 0 {
		r.timer = time.AfterFunc(idle, func() { r.Close() })
	}
	return r
}

var (
	dataPrefix    = []byte("data:")
	ignoredFields = [][]byte{[]byte("event:"), []byte("id:"), []byte("retry:")}
)

// ReadFrame returns the next event payload or bare line. A frame over the
// size limit is skipped and reported as ErrFrameTooLarge; the stream stays
// readable after it.
func (r *sseReader) ReadFrame() ([]byte, error) {
	errFactory := errors.New()

	var data []byte
	pending := false
	dropping := false

	for {
		line, tooLong, err := r.readLine()
		if err != nil {
			if err == io.EOF {
				return nil, errFactory.Wrap(ErrClosed, err)
			}
			return nil, errFactory.Wrap(ErrRead, err)
		}
		if r.timer != nil {
			r.timer.Reset(r.idle)
		}

		switch {
		case len(line) == 0 && !tooLong:
			if dropping {
				return nil, r.tooLarge()
			}
			if pending {
				return data, nil
			}
		case line[0] == ':':
			// comment or keep-alive
		case bytes.HasPrefix(line, dataPrefix):
			if dropping {
				continue
			}
			v := line[len(dataPrefix):]
			if len(v) > 0 && v[0] == ' ' {
				v = v[1:]
			}
			size := len(data) + len(v)
			if pending {
				size++
			}
			if tooLong || size > r.maxFrame {
				dropping, pending, data = true, false, nil
				continue
			}
			if pending {
				data = append(data, '\n')
			}
			data = append(data, v...)
			pending = true
		case hasAnyPrefix(line, ignoredFields):
		case !pending && !dropping:
			if tooLong {
				return nil, r.tooLarge()
			}
			return append([]byte(nil), line...), nil
		}
	}
}

func (r *sseReader) tooLarge() error {
	return errors.New().WithData(ErrFrameTooLarge, struct {
		Limit int
	}{r.maxFrame})
}

// readLine returns the next line without its terminator. Lines longer than
// the frame limit are consumed to the end but only their head is kept.
func (r *sseReader) readLine() ([]byte, bool, error) {
	limit := r.maxFrame + 2
	r.line = r.line[:0]
	total := 0

	for {
		chunk, err := r.br.ReadSlice('\n')
		total += len(chunk)
		if room := limit - len(r.line); room > 0 {
			r.line = append(r.line, chunk[:min(room, len(chunk))]...)
		}

		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && len(r.line) > 0:
		case err != nil:
			return nil, false, err
		}
		break
	}

	line := bytes.TrimSuffix(r.line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, total > limit || len(line) > r.maxFrame, nil
}

func (r *sseReader) Close() error {
	var err error
	r.once.Do(func() {
		if r.timer != nil {
			r.timer.Stop()
		}
		err = r.body.Close()
	})
	return err
}

func hasAnyPrefix(line []byte, prefixes [][]byte) bool {
	for _, p := range prefixes {
		if bytes.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
