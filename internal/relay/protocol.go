package relay

import (
	"encoding/json"
	"log"
)

// Message types exchanged with clients. Room keys are always workspace IDs.
const (
	TypeJoinRoom         = "join-room"
	TypeRoomCount        = "room-count"
	TypeCollabState      = "collaboration-state"
	TypeToggleCollab     = "toggle-collaboration"
	TypeCollabDenied     = "collaboration-denied"
	TypeWhiteboardChange = "whiteboard-change"
	TypeWhiteboardUpdate = "whiteboard-update"
)

// Envelope is the wire frame for every relay message. Fields not relevant
// to a given type are omitted. Elements and ViewState are opaque to the
// server and relayed verbatim.
type Envelope struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	Count     *int            `json:"count,omitempty"`
	Open      *bool           `json:"open,omitempty"`
	Elements  json.RawMessage `json:"elements,omitempty"`
	ViewState json.RawMessage `json:"viewState,omitempty"`
}

func marshalEnvelope(env Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("Failed to marshal %s message: %v", env.Type, err)
		return nil
	}
	return data
}

func countMessage(room string, count int) []byte {
	return marshalEnvelope(Envelope{Type: TypeRoomCount, Room: room, Count: &count})
}

func stateMessage(room string, open bool) []byte {
	return marshalEnvelope(Envelope{Type: TypeCollabState, Room: room, Open: &open})
}

func deniedMessage(room string) []byte {
	return marshalEnvelope(Envelope{Type: TypeCollabDenied, Room: room})
}

func updateMessage(elements, viewState json.RawMessage) []byte {
	return marshalEnvelope(Envelope{Type: TypeWhiteboardUpdate, Elements: elements, ViewState: viewState})
}

// hasElements reports whether a whiteboard payload carries at least one
// canvas element. Empty snapshots are dropped rather than relayed, so a
// blank payload can never clear a remote canvas.
func hasElements(elements json.RawMessage) bool {
	if len(elements) == 0 {
		return false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(elements, &items); err != nil {
		return false
	}
	return len(items) > 0
}
