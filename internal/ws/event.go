package ws

// EventChannel is the single outgoing event name for channel activity.
// The concrete kind lives in Data.Type.
const EventChannel = "events:channel"

// Data.Type discriminators.
const (
	TypeMessage        = "message"
	TypeMessageUpdate  = "message:update"
	TypeMessageDelete  = "message:delete"
	TypeMessageReply   = "message:reply"
	TypeReactionAdd    = "message:reaction:add"
	TypeReactionRemove = "message:reaction:remove"
	TypeChannelCreated = "channel:created"
	TypeTyping         = "typing"
)

// ChannelRoom is the room name for a channel.
func ChannelRoom(channelID string) string { return "channel:" + channelID }

// Outgoing is the envelope the server writes to the socket.
type Outgoing struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// EventData carries the discriminated payload inside a channel event.
type EventData struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ChannelEvent is the payload of every EventChannel emission.
type ChannelEvent struct {
	ChannelID string    `json:"channel_id"`
	MessageID string    `json:"message_id,omitempty"`
	Data      EventData `json:"data"`
	User      any       `json:"user,omitempty"`
	Channel   any       `json:"channel,omitempty"`
}

// Incoming is what a client may send to the server. The write path for
// messages is HTTP; over the socket clients only signal typing.
type Incoming struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id,omitempty"`
}
