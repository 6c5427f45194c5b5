// Package sseutil writes text/event-stream responses.
package sseutil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SetHeaders prepares w for a long lived event stream.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Stops reverse proxies from buffering the stream.
	w.Header().Set("X-Accel-Buffering", "no")
}

func Flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Event is one server sent event. Empty Name and ID fields are omitted.
type Event struct {
	Name string
	ID   string
	Data any
}

// Write encodes e with its data as JSON.
func Write(w http.ResponseWriter, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	if e.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", e.ID); err != nil {
			return err
		}
	}
	if e.Name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", e.Name); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// WriteComment sends a comment line, which clients ignore. Used as a
// keepalive.
func WriteComment(w http.ResponseWriter, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}
