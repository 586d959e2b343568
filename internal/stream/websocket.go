package stream

import (
	"context"
	"net/url"
	"sync"
	"time"

	"codeberg.org/mutker/fluxdash/internal/errors"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 2 * time.Second
	handshakeTimeout = 10 * time.Second
)

// WebSocketTransport subscribes over a WebSocket. Each text or binary message
// is one frame; the client never sends data messages.
type WebSocketTransport struct {
	endpoint    *url.URL
	tokenParam  string
	dialer      *websocket.Dialer
	maxFrame    int64
	idleTimeout time.Duration
}

func newWebSocketTransport(endpoint *url.URL, cfg Config) *WebSocketTransport {
	maxFrame := cfg.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrameBytes
	}
	return &WebSocketTransport{
		endpoint:   endpoint,
		tokenParam: cfg.TokenParam,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
		},
		maxFrame:    int64(maxFrame),
		idleTimeout: cfg.IdleTimeout,
	}
}

func (t *WebSocketTransport) Open(ctx context.Context, token string) (FrameReader, error) {
	errFactory := errors.New()

	conn, resp, err := t.dialer.DialContext(ctx, withToken(t.endpoint, t.tokenParam, token), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			code := ErrDial
			if isAuthStatus(resp.StatusCode) {
				code = ErrUnauthorized
			}
			return nil, errFactory.Wrap(code, err).WithData(struct {
				Status int
			}{resp.StatusCode})
		}
		return nil, errFactory.Wrap(ErrDial, err)
	}

	r := &wsReader{conn: conn, idle: t.idleTimeout}
	conn.SetReadLimit(t.maxFrame)
	r.extend()
	conn.SetPingHandler(func(data string) error {
		r.extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	return r, nil
}

type wsReader struct {
	conn *websocket.Conn
	idle time.Duration
	once sync.Once
}

// extend pushes the read deadline out by the idle timeout.
func (r *wsReader) extend() {
	if r.idle > 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(r.idle))
	}
}

func (r *wsReader) ReadFrame() ([]byte, error) {
	errFactory := errors.New()

	_, data, err := r.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, errFactory.Wrap(ErrClosed, err)
		}
		return nil, errFactory.Wrap(ErrRead, err)
	}
	r.extend()

	return data, nil
}

func (r *wsReader) Close() error {
	var err error
	r.once.Do(func() {
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = r.conn.Close()
	})
	return err
}
