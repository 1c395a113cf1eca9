package feishu

// Event schema 2.0 shapes for im.message.receive_v1, shared by the
// websocket long connection and the webhook receiver.

// MessageEvent is one inbound message push from the open platform.
type MessageEvent struct {
	Schema string      `json:"schema"`
	Header EventHeader `json:"header"`
	Event  struct {
		Sender  EventSender  `json:"sender"`
		Message EventMessage `json:"message"`
	} `json:"event"`
}

// EventHeader identifies the event and carries the verification token.
type EventHeader struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Token      string `json:"token"`
	AppID      string `json:"app_id"`
	TenantKey  string `json:"tenant_key"`
}

// EventSender is who sent the message.
type EventSender struct {
	SenderID   EventUserID `json:"sender_id"`
	SenderType string      `json:"sender_type"`
	TenantKey  string      `json:"tenant_key"`
}

// EventUserID is the platform's triple-identifier for one user.
type EventUserID struct {
	UnionID string `json:"union_id"`
	UserID  string `json:"user_id"`
	OpenID  string `json:"open_id"`
}

// EventMessage is the message body of an im.message.receive_v1 push.
type EventMessage struct {
	MessageID   string         `json:"message_id"`
	RootID      string         `json:"root_id"`
	ParentID    string         `json:"parent_id"`
	CreateTime  string         `json:"create_time"`
	ChatID      string         `json:"chat_id"`
	ChatType    string         `json:"chat_type"` // "p2p" or "group"
	MessageType string         `json:"message_type"`
	Content     string         `json:"content"`
	Mentions    []EventMention `json:"mentions"`
}

// EventMention is one @-mention inside the message content.
type EventMention struct {
	Key  string      `json:"key"` // "@_user_N" placeholder in content
	ID   EventUserID `json:"id"`
	Name string      `json:"name"`
}
