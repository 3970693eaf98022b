package httpserver

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vancuren/pair.ai/internal/agent"
	"github.com/vancuren/pair.ai/internal/capture"
	"github.com/vancuren/pair.ai/internal/config"
	"github.com/vancuren/pair.ai/internal/llm"
	"github.com/vancuren/pair.ai/internal/repo"
	"github.com/vancuren/pair.ai/internal/rtc"
	"github.com/vancuren/pair.ai/internal/session"
	"github.com/vancuren/pair.ai/internal/speech"
	"github.com/vancuren/pair.ai/internal/tts"
)

// Server bundles the router and the session services behind it.
type Server struct {
	Echo *echo.Echo

	state  *session.State
	orch   *agent.Orchestrator
	rec    *speech.Recognizer
	frames *capture.Buffer
	hub    *hub

	authPassword  string
	newRepoClient func(repo.Connection) *repo.Client
}

// New constructs the HTTP server with routes and the full session pipeline
// behind them.
func New(cfg config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	state := session.NewState()
	frames := capture.NewBuffer(0)
	gem := llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModelID, cfg.TTSModelID, cfg.TTSVoice)
	var synth agent.Synthesizer = gem
	if cfg.TTSEngine == "deepgram" {
		synth = tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel)
	}
	orch := agent.New(state, gem, synth, frames, cfg.MaxToolSteps)

	s := &Server{
		Echo:          e,
		state:         state,
		orch:          orch,
		frames:        frames,
		authPassword:  cfg.AuthPassword,
		newRepoClient: repo.NewClient,
	}
	s.hub = newHub()

	rec := speech.NewRecognizer(cfg.AssemblyAIKey, state.Phase,
		func(text string) { s.hub.broadcast(wsEvent{Type: "partial", Text: text}) },
		func(text string) { go orch.HandleUtterance(context.Background(), text) },
		func(msg string) { s.hub.broadcast(wsEvent{Type: "error", Text: msg}) },
	)
	s.rec = rec
	orch.OnListening(rec.Resume)
	state.OnAppend(func(m session.Message) {
		s.hub.broadcast(wsEvent{Type: "message", ID: m.ID, Sender: string(m.Sender), Text: m.Text})
	})

	rtcHandler := rtc.NewHandler(state, rec, orch)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/call", s.handleCall(rtcHandler))
	e.GET("/ws", s.handleWS)
	e.POST("/repo/connect", s.handleRepoConnect)
	e.POST("/repo/disconnect", s.handleRepoDisconnect)

	return s
}

func (s *Server) handleCall(h *rtc.Handler) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !authOK(c.Request(), s.authPassword) {
			return c.String(http.StatusUnauthorized, "unauthorized")
		}
		var offer rtc.SessionDescription
		if err := c.Bind(&offer); err != nil {
			log.Printf("invalid offer: %v", err)
			return c.String(http.StatusBadRequest, "invalid offer")
		}
		answer, err := h.HandleOffer(c.Request().Context(), offer)
		if err != nil {
			log.Printf("webrtc handle offer failed: %v", err)
			return c.String(http.StatusInternalServerError, "offer failed")
		}
		return c.JSON(http.StatusOK, answer)
	}
}

func (s *Server) handleRepoConnect(c echo.Context) error {
	var conn repo.Connection
	if err := c.Bind(&conn); err != nil {
		return c.String(http.StatusBadRequest, "invalid connection")
	}
	if conn.Owner == "" || conn.Repo == "" || conn.Token == "" {
		return c.String(http.StatusBadRequest, "owner, repo and token are required")
	}
	client := s.newRepoClient(conn)
	if err := client.ValidateAccess(c.Request().Context()); err != nil {
		log.Printf("repo connect rejected: %v", err)
		return c.String(http.StatusBadGateway, "could not access repository; check the name and token")
	}
	s.state.ConnectRepository(conn)
	s.frames.Clear()
	s.orch.SetRepository(client)
	log.Printf("repository connected: %s/%s", conn.Owner, conn.Repo)
	return c.JSON(http.StatusOK, map[string]string{"owner": conn.Owner, "repo": conn.Repo})
}

func (s *Server) handleRepoDisconnect(c echo.Context) error {
	s.state.DisconnectRepository()
	s.orch.ClearRepository()
	log.Printf("repository disconnected")
	return c.NoContent(http.StatusOK)
}

// authOK validates the shared call password when one is configured. Accepts
// ?password=, X-Auth-Token, or an Authorization bearer token.
func authOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	if r.URL.Query().Get("password") == expected {
		return true
	}
	if r.Header.Get("X-Auth-Token") == expected {
		return true
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") && auth[7:] == expected {
		return true
	}
	return false
}
