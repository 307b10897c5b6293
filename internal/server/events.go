package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/scaffoldd/internal/session"
	"github.com/fyrsmithlabs/scaffoldd/internal/stream"
)

// handleEvents serves the per-session progress feed as server-sent
// events. The consumer receives events from attachment forward; the feed
// ends when the session reaches a terminal state or the client
// disconnects. Disconnection never affects the producer or other
// consumers.
func (s *Server) handleEvents(c echo.Context) error {
	var st *stream.Stream
	err := s.registry.View(c.Param("id"), func(sess *session.Session) error {
		st = sess.Stream
		return nil
	})
	if err != nil {
		return s.mapError(err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	// Subscribing with the request context detaches this consumer when
	// the client goes away; the stream itself is untouched.
	events := st.Subscribe(c.Request().Context())
	for ev := range events {
		if err := writeSSE(resp, ev); err != nil {
			return nil // client gone; not an error
		}
		resp.Flush()
	}
	return nil
}

// writeSSE encodes one event as an SSE frame.
func writeSSE(w http.ResponseWriter, ev stream.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
