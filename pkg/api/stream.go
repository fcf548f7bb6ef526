package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/quiltcore/unisearch/pkg/search"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Same policy as the REST endpoints: the API is CORS-open.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamMessage is the envelope for WebSocket stream frames. Backend
// frames arrive in settlement order, then exactly one response or error
// frame closes the conversation.
type streamMessage struct {
	Type     string              `json:"type"` // "backend", "response" or "error"
	Event    *search.StreamEvent `json:"event,omitempty"`
	Response *search.Response    `json:"response,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// HandleSearchStream serves GET /api/search/stream: the same search as
// /api/search, but each backend's result is pushed as soon as it settles
// so slow backends do not hold up the first hits.
func (s *Server) HandleSearchStream(w http.ResponseWriter, r *http.Request) {
	req, err := search.ParseSearchParams(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid parameters", err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debugf("websocket upgrade failed: %v", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	resp, err := s.service().SearchStream(r.Context(), req, func(ev search.StreamEvent) {
		if werr := conn.WriteJSON(streamMessage{Type: "backend", Event: &ev}); werr != nil {
			s.logger.Debugf("writing backend frame: %v", werr)
		}
	})
	if err != nil {
		_ = conn.WriteJSON(streamMessage{Type: "error", Error: err.Error()})
		return
	}
	if werr := conn.WriteJSON(streamMessage{Type: "response", Response: resp}); werr != nil {
		s.logger.Debugf("writing response frame: %v", werr)
	}
}
