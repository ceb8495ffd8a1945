package domain

// Event names carried over the realtime channel. Client-to-server and
// server-to-client share one envelope.
const (
	EventIdentify       = "identify"
	EventJoinRoom       = "join-room"
	EventLeaveRoom      = "leave-room"
	EventSendMessage    = "send-message"
	EventNewMessage     = "new-message"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventMembersUpdate  = "room_members_update"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventJoinCall       = "join-video-chat"
	EventLeaveCall      = "leave-video-chat"
	EventUserJoinedCall = "user-joined-video"
	EventUserLeftCall   = "user-left-video"
	EventOffer          = "video-offer"
	EventAnswer         = "video-answer"
	EventICECandidate   = "ice-candidate"
	EventError          = "error"
)

// Event is the wire envelope for the realtime channel. From/To are advisory
// on client-to-server signaling messages; the relay routes point-to-point.
type Event struct {
	Type    string      `json:"type"`
	RoomID  RoomID      `json:"room_id,omitempty"`
	From    UserID      `json:"from,omitempty"`
	To      UserID      `json:"to,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}
