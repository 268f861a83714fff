package relay

import "log"

// A single collaborative workspace session. Rooms are created lazily on
// first join and deleted by the hub when the last member leaves; lock
// state does not outlive an empty room. All mutation happens on the hub
// run loop.
type Room struct {
	Key     string
	members map[*Client]bool

	// collaborationOpen: false means only the workspace leader edits.
	open bool
}

func newRoom(key string) *Room {
	return &Room{
		Key:     key,
		members: make(map[*Client]bool),
	}
}

func (r *Room) size() int {
	return len(r.members)
}

// broadcast queues data on every member's send channel, skipping except
// when non-nil. A member whose buffer is full misses the message; there
// is no retry, consistent with last-snapshot-wins delivery.
func (r *Room) broadcast(data []byte, except *Client) {
	if data == nil {
		return
	}
	for member := range r.members {
		if member == except {
			continue
		}
		select {
		case member.send <- data:
		default:
			log.Printf("Dropping message for slow client %s in room %s", member.id, r.Key)
		}
	}
}
