package httpserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/vancuren/pair.ai/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEvent is a server-to-client notification.
type wsEvent struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Sender string `json:"sender,omitempty"`
	Text   string `json:"text,omitempty"`
}

// wsCommand is a client-to-server request on the session socket.
type wsCommand struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
	Active  bool   `json:"active,omitempty"`
}

// hub fans session events out to every connected page.
type hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func newHub() *hub {
	return &hub{conns: make(map[*websocket.Conn]bool)}
}

func (h *hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *hub) broadcast(ev wsEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(h.conns, c)
			_ = c.Close()
		}
	}
}

// handleWS upgrades the session socket. Binary frames are screen snapshots;
// text frames are JSON commands.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	s.hub.add(conn)
	defer func() {
		s.hub.remove(conn)
		_ = conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		switch msgType {
		case websocket.BinaryMessage:
			if s.state.Mode() != session.ModeScreenShare {
				continue
			}
			if err := s.frames.StoreEncoded(data); err != nil {
				log.Printf("ws: dropped undecodable frame: %v", err)
			}
		case websocket.TextMessage:
			var cmd wsCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				log.Printf("ws: bad command: %v", err)
				continue
			}
			s.dispatch(cmd)
		}
	}
}

func (s *Server) dispatch(cmd wsCommand) {
	switch cmd.Type {
	case "utterance":
		text := strings.TrimSpace(cmd.Text)
		if text == "" {
			return
		}
		go s.orch.HandleUtterance(context.Background(), text)
	case "mic":
		if cmd.Enabled {
			// The phase must read Listening before the recognizer checks it,
			// or the first session never starts.
			s.state.StartListening()
			s.rec.Enable()
		} else {
			s.rec.Disable()
			s.state.StopListening()
		}
	case "screen":
		if cmd.Active {
			s.state.ActivateScreenShare()
			s.orch.ClearRepository()
		} else {
			s.state.DeactivateScreenShare()
			s.frames.Clear()
		}
	default:
		log.Printf("ws: unknown command type %q", cmd.Type)
	}
}
