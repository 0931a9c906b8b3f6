// Package ws streams overlay progress to clients over websocket.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"structcraft.ai/internal/protocol"
	"structcraft.ai/internal/sim/hub"
)

type Options struct {
	ProgressIntervalMs int
	PreviewAlpha       float64
}

type Server struct {
	hub  *hub.Hub
	log  *log.Logger
	opts Options

	upgrader websocket.Upgrader
}

func NewServer(h *hub.Hub, logger *log.Logger, opts Options) *Server {
	return &Server{
		hub:  h,
		log:  logger,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// ServeSession upgrades the request, waits for HELLO, answers WELCOME and
// then pushes a PROGRESS message for session on every hub step.
func (s *Server) ServeSession(rw http.ResponseWriter, r *http.Request, session string) {
	if _, err := s.hub.Session(session); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	hello, ok := s.handshake(conn, session)
	if !ok {
		return
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	updates, unsubscribe, err := s.hub.Subscribe(session, maxQ)
	if err != nil {
		return
	}
	defer unsubscribe()
	s.logf("stream %s: %s connected", session, hello.ClientName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Writer goroutine.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if first, err := s.hub.Progress(session); err == nil {
			if err := writeJSON(conn, first); err != nil {
				cancel()
				_ = conn.Close()
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-updates:
				if !ok {
					return
				}
				if err := writeJSON(conn, msg); err != nil {
					cancel()
					_ = conn.Close()
					return
				}
			}
		}
	}()

	// Reader loop. Clients have nothing to send after HELLO; reading keeps
	// control frames flowing and notices disconnects.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	cancel()
	<-done
	s.logf("stream %s: disconnected", session)
}

func (s *Server) handshake(conn *websocket.Conn, session string) (protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return hello, false
	}
	if err := protocol.CheckJSON(protocol.SchemaHello, msg); err != nil {
		closeWith(conn, "bad HELLO")
		return hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return hello, false
	}

	welcome := protocol.WelcomeMsg{
		Type:               protocol.TypeWelcome,
		ProtocolVersion:    protocol.Version,
		Session:            session,
		Tick:               s.hub.CurrentTick(),
		StructuresDigest:   s.hub.Structures().Digest(),
		BlocksDigest:       s.hub.Blocks().BlocksDigest,
		ProgressIntervalMs: s.opts.ProgressIntervalMs,
		PreviewAlpha:       s.opts.PreviewAlpha,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return hello, false
	}
	return hello, true
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
