package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// handleSSE is the endpoint for Server-Sent Events connections. The frontend
// opens one stream per session and receives "challenge_completed"
// notifications as the sync pipeline records them.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorJSON(w, errors.New("streaming unsupported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	messageChan := s.broker.AddClient(userID)
	defer s.broker.RemoveClient(userID)

	// Periodic comments keep proxies from timing the connection out.
	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-messageChan:
			if !open {
				// Replaced by a newer connection from the same user.
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
