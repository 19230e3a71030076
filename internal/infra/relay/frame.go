// Package relay carries mirror changes and input events between processes
// over WebSocket. The Server side accepts connections, tracks per-connection
// area subscriptions, and fans hub changes out to them with per-connection
// rate limiting. The Client side dials with reconnect, bridges inbound
// changes into a local mirror.Hub, and forwards local changes and input
// events upstream.
package relay

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/commons-dev-open/reactive/mirror"
	"github.com/commons-dev-open/reactive/outside"
)

// FrameKind discriminates relay protocol frames.
type FrameKind string

const (
	// KindSubscribe registers the connection for the listed areas.
	KindSubscribe FrameKind = "subscribe"
	// KindChange carries one mirror change.
	KindChange FrameKind = "change"
	// KindInput carries one document-wide input event.
	KindInput FrameKind = "input"
	// KindPing is an application-level liveness probe; the server echoes it
	// after processing everything the connection sent before it.
	KindPing FrameKind = "ping"
)

// Frame is the JSON envelope exchanged on a relay socket. Only the fields of
// its kind are set.
type Frame struct {
	Kind   FrameKind      `json:"kind"`
	Areas  []string       `json:"areas,omitempty"`
	Change *mirror.Change `json:"change,omitempty"`
	Input  *outside.Event `json:"input,omitempty"`
}

func encodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", f.Kind, err)
	}
	return data, nil
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Kind == "" {
		return Frame{}, fmt.Errorf("frame kind missing")
	}
	return f, nil
}
