package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/teamcal/internal/auth"
	"github.com/and161185/teamcal/internal/limiter"
	"github.com/and161185/teamcal/internal/notify"
)

// maxClientFrame bounds inbound client messages; clients only send pings.
const maxClientFrame = 4 << 10

// wsChannel is a notify.Channel over a WebSocket connection.
// Every frame is encoded in full and written under mu.
type wsChannel struct {
	conn net.Conn
	mu   sync.Mutex
	once sync.Once
}

func (c *wsChannel) writeFrame(f ws.Frame, deadline time.Time) error {
	var buf bytes.Buffer
	if err := ws.WriteFrame(&buf, f); err != nil {
		return err
	}
	return c.writeRaw(buf.Bytes(), deadline)
}

func (c *wsChannel) writeRaw(b []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := c.conn.Write(b)
	return err
}

func (c *wsChannel) Push(ctx context.Context, msg []byte) error {
	deadline, _ := ctx.Deadline()
	return c.writeFrame(ws.NewTextFrame(msg), deadline)
}

func (c *wsChannel) Close() error {
	var err error
	c.once.Do(func() { err = c.conn.Close() })
	return err
}

func (c *wsChannel) closeWith(code ws.StatusCode, reason string) {
	_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)), time.Now().Add(time.Second))
	_ = c.Close()
}

type clientMessage struct {
	Type string `json:"type"`
}

// WSHandler serves /ws/notifications?token=<JWT>. The server pushes
// notification frames and answers {"type":"ping"} with {"type":"pong"}.
type WSHandler struct {
	auth         auth.Provider
	hub          *notify.Hub
	rate         *limiter.MessageRate
	log          *zap.Logger
	writeTimeout time.Duration
}

// NewWSHandler constructs the WebSocket endpoint.
func NewWSHandler(p auth.Provider, hub *notify.Hub, rate *limiter.MessageRate, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{auth: p, hub: hub, rate: rate, log: log, writeTimeout: 5 * time.Second}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.log.Info("ws upgrade failed", zap.Error(err))
		return
	}
	ch := &wsChannel{conn: conn}
	sub, err := h.hub.Subscribe(userID, ch)
	if err != nil {
		ch.closeWith(ws.StatusPolicyViolation, err.Error())
		return
	}
	defer h.hub.Unsubscribe(sub)

	var src io.Reader = conn
	if rw != nil {
		src = rw.Reader
	}
	h.readLoop(userID, ch, src)
}

func (h *WSHandler) send(ch *wsChannel, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ch.writeFrame(ws.NewTextFrame(b), time.Now().Add(h.writeTimeout))
}

// readLoop consumes client frames until the connection ends. Control frames
// are answered by the wsutil handler through ch so writes never interleave.
func (h *WSHandler) readLoop(userID uuid.UUID, ch *wsChannel, src io.Reader) {
	var ctlOut bytes.Buffer
	ctl := wsutil.ControlFrameHandler(&ctlOut, ws.StateServerSide)
	rd := wsutil.NewReader(src, ws.StateServerSide)
	rd.OnIntermediate = ctl
	flush := func() {
		if ctlOut.Len() > 0 {
			_ = ch.writeRaw(ctlOut.Bytes(), time.Now().Add(h.writeTimeout))
			ctlOut.Reset()
		}
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		if hdr.OpCode.IsControl() {
			err := ctl(hdr, rd)
			flush()
			if err != nil {
				return
			}
			continue
		}
		if hdr.Length > maxClientFrame {
			ch.closeWith(ws.StatusMessageTooBig, "message too big")
			return
		}
		data, err := io.ReadAll(rd)
		flush()
		if err != nil {
			return
		}
		if h.rate != nil && !h.rate.Allow(userID) {
			ch.closeWith(ws.StatusPolicyViolation, "rate limited")
			return
		}
		if hdr.OpCode != ws.OpText {
			continue
		}
		var m clientMessage
		if err := json.Unmarshal(data, &m); err != nil {
			h.log.Debug("ws bad client message", zap.String("user_id", userID.String()), zap.Error(err))
			continue
		}
		if m.Type == "ping" {
			if err := h.send(ch, map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
