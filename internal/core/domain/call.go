package domain

// CallParticipant is one identity in a room's audio/video channel. The
// participant set is distinct from chat presence: a user can be in the room
// without being in the call.
type CallParticipant struct {
	Identity  UserID `json:"identity"`
	AudioOnly bool   `json:"audio_only"`
}

// LinkState is the negotiation state of one client-side peer link.
type LinkState int

const (
	LinkNew       LinkState = iota
	LinkOffering            // local offer sent, waiting for answer
	LinkAnswering           // remote offer received, answer in flight
	LinkConnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkOffering:
		return "offering"
	case LinkAnswering:
		return "answering"
	case LinkConnected:
		return "connected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}
