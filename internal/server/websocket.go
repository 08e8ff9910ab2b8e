package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/foxseedlab/mensetsu/internal/session"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsReadTimeout    = 30 * time.Second
	wsPingPeriod     = 2 * time.Second
	wsMaxFrameBytes  = 1 << 20
	defaultFrameRate = 100
)

var errSessionClosed = errors.New("session closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger().Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	c := &clientConn{conn: conn, logger: h.logger().With("session_id", id)}
	runner, err := h.Sessions.Get(id)
	if err != nil {
		c.closeWithError("session not found")
		return
	}
	if err := runner.Attach(); err != nil {
		c.closeWithError(err.Error())
		return
	}
	defer runner.Detach()
	c.runner = runner

	perSecond := h.MaxFramesPerSecond
	if perSecond <= 0 {
		perSecond = defaultFrameRate
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)

	c.logger.Info("client connected", "remote_addr", r.RemoteAddr)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return c.readLoop() })
	g.Go(func() error { return c.writeLoop(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})
	err = g.Wait()
	if err != nil && !errors.Is(err, errSessionClosed) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info("client connection closed", "error", err)
		return
	}
	c.logger.Info("client connection closed")
}

type clientConn struct {
	conn    *websocket.Conn
	runner  *session.Runner
	limiter *rate.Limiter
	logger  *slog.Logger

	writeMu sync.Mutex
}

func (c *clientConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *clientConn) closeWithError(msg string) {
	_ = c.writeJSON(session.NewErrorMessage(msg))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg),
		time.Now().Add(wsWriteTimeout))
}

func (c *clientConn) readLoop() error {
	c.conn.SetReadLimit(wsMaxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		sentAt, err := strconv.ParseInt(appData, 10, 64)
		if err != nil {
			return nil
		}
		if rtt := time.Since(time.Unix(0, sentAt)); rtt >= 0 {
			c.runner.RecordRTT(rtt)
		}
		return nil
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if !c.limiter.Allow() {
			c.logger.Debug("client frame dropped by rate limit", "bytes", len(data))
			continue
		}
		switch mt {
		case websocket.BinaryMessage:
			c.runner.PushAudio(data)
		case websocket.TextMessage:
			c.handleText(data)
		}
	}
}

func (c *clientConn) handleText(data []byte) {
	var msg session.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		c.logger.Warn("malformed client frame", "error", err, "bytes", len(data))
		return
	}
	if !c.runner.HandleClientMessage(msg) {
		c.logger.Warn("unknown client message type", "type", msg.Type)
		return
	}
	if msg.Type == session.ClientMsgPing {
		if err := c.writeJSON(session.NewPongMessage()); err != nil {
			c.logger.Debug("failed to write pong", "error", err)
		}
	}
}

func (c *clientConn) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	out := c.runner.Outbound()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-out:
			if !ok {
				c.writeMu.Lock()
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(wsWriteTimeout))
				c.writeMu.Unlock()
				return errSessionClosed
			}
			if err := c.writeJSON(msg); err != nil {
				return err
			}
		case <-ticker.C:
			payload := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
			if err := c.conn.WriteControl(websocket.PingMessage, payload, time.Now().Add(wsWriteTimeout)); err != nil {
				return err
			}
		}
	}
}
