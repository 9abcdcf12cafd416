package websocket

import (
	"encoding/json"

	"github.com/avolkov/talk-call/model"
)

// Wire envelopes of the external signaling server. Only the parts this
// client consumes are modeled; everything else is ignored on decode.

type serverEnvelope struct {
	Type    string           `json:"type"`
	Hello   *helloResponse   `json:"hello,omitempty"`
	Message *messageEnvelope `json:"message,omitempty"`
	Event   *eventEnvelope   `json:"event,omitempty"`
}

type helloResponse struct {
	Version   string `json:"version"`
	SessionID string `json:"sessionid"`
	ResumeID  string `json:"resumeid,omitempty"`
}

type messageEnvelope struct {
	Sender *messageSender  `json:"sender,omitempty"`
	Data   json.RawMessage `json:"data"`
}

type messageSender struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionid"`
	UserID    string `json:"userid,omitempty"`
}

type eventEnvelope struct {
	Target   string              `json:"target"`
	Type     string              `json:"type"`
	Join     []model.Participant `json:"join,omitempty"`
	Update   *participantsUpdate `json:"update,omitempty"`
	SwitchTo *switchToEvent      `json:"switchto,omitempty"`
	Message  json.RawMessage     `json:"message,omitempty"`
}

type participantsUpdate struct {
	RoomID string              `json:"roomid"`
	Users  []model.Participant `json:"users,omitempty"`
	All    bool                `json:"all,omitempty"`
	InCall int                 `json:"incall,omitempty"`
}

type switchToEvent struct {
	RoomID string `json:"roomid"`
}

type roomEventMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}

type clientEnvelope struct {
	Type    string           `json:"type"`
	Hello   *helloRequest    `json:"hello,omitempty"`
	Message *outgoingMessage `json:"message,omitempty"`
}

type helloRequest struct {
	Version  string     `json:"version"`
	Auth     *helloAuth `json:"auth,omitempty"`
	ResumeID string     `json:"resumeid,omitempty"`
}

type helloAuth struct {
	Ticket string `json:"ticket,omitempty"`
}

type outgoingMessage struct {
	Recipient recipient     `json:"recipient"`
	Data      *outgoingData `json:"data"`
}

type recipient struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionid,omitempty"`
}

type outgoingData struct {
	Type     string         `json:"type"`
	Sid      string         `json:"sid,omitempty"`
	RoomType string         `json:"roomType,omitempty"`
	Payload  *model.Payload `json:"payload,omitempty"`
}
