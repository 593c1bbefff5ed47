package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/focuswatch/focuswatch"
	"github.com/focuswatch/focuswatch/internal/logger"
)

// Window is the JSON shape of a focus event served over the API. The icon is
// re-encoded as base64 PNG so browser clients can use it directly.
type Window struct {
	ProcessID   *uint32 `json:"process_id,omitempty"`
	ProcessName *string `json:"process_name,omitempty"`
	WindowTitle *string `json:"window_title,omitempty"`
	IconPNG     string  `json:"icon_png,omitempty"`
}

// Server exposes the current focus state over HTTP: a REST snapshot endpoint
// and a WebSocket stream of changes.
type Server struct {
	router   *mux.Router
	tracker  *focuswatch.FocusTracker
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	current *Window
	streams map[chan Window]struct{}
}

// NewServer creates an API server backed by the given tracker.
func NewServer(tracker *focuswatch.FocusTracker) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		tracker: tracker,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		streams: make(map[chan Window]struct{}),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/window/current", s.handleGetCurrentWindow).Methods("GET")
	api.HandleFunc("/window/stream", s.handleWindowStream)
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start subscribes to the tracker and serves HTTP on the given port. It
// blocks until the listener fails.
func (s *Server) Start(port int) error {
	sub := s.tracker.Subscribe()
	defer sub.Close()

	go func() {
		log := logger.WithComponent("api")
		for w := range sub.Events() {
			s.publish(encodeWindow(w))
		}
		if err := sub.Err(); err != nil {
			log.Error().Err(err).Msg("focus tracking stopped")
		}
	}()

	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, s.enableCORS(s.router))
}

func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// publish records the new current window and fans it out to every stream.
// Slow consumers are skipped rather than allowed to stall the feed.
func (s *Server) publish(w Window) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = &w
	for ch := range s.streams {
		select {
		case ch <- w:
		default:
		}
	}
}

func (s *Server) subscribe() chan Window {
	ch := make(chan Window, 16)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[ch] = struct{}{}
	return ch
}

func (s *Server) unsubscribe(ch chan Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, ch)
}

func (s *Server) handleGetCurrentWindow(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	if current == nil {
		http.Error(w, "no window focused yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(current)
}

func (s *Server) handleWindowStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.subscribe()
	defer s.unsubscribe(updates)

	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current != nil {
		if err := conn.WriteJSON(current); err != nil {
			return
		}
	}

	for window := range updates {
		if err := conn.WriteJSON(window); err != nil {
			log.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// encodeWindow converts a focus event to its wire form, PNG-encoding the
// icon when one is present.
func encodeWindow(w focuswatch.FocusedWindow) Window {
	out := Window{
		ProcessID:   w.ProcessID,
		ProcessName: w.ProcessName,
		WindowTitle: w.WindowTitle,
	}

	if w.Icon != nil {
		img := &image.NRGBA{
			Pix:    w.Icon.Pixels,
			Stride: w.Icon.Width * 4,
			Rect:   image.Rect(0, 0, w.Icon.Width, w.Icon.Height),
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err == nil {
			out.IconPNG = base64.StdEncoding.EncodeToString(buf.Bytes())
		}
	}

	return out
}
