package model

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
)

// Signaling message types understood by the dispatch core. Anything else
// is ignored on receipt.
const (
	MessageTypeOffer           = "offer"
	MessageTypeAnswer          = "answer"
	MessageTypeCandidate       = "candidate"
	MessageTypeEndOfCandidates = "endOfCandidates"
	MessageTypeUnshareScreen   = "unshareScreen"
)

// Room types multiplex two independent peer connections per participant.
const (
	RoomTypeVideo  = "video"
	RoomTypeScreen = "screen"
)

var (
	ErrMissingFrom      = errors.New("message has no sender session")
	ErrMissingPayload   = errors.New("message type requires a payload")
	ErrMissingCandidate = errors.New("candidate message has no ice candidate")
)

// SignalingMessage is one inbound or outbound signaling event. Both signaling
// backends converge to this shape before it reaches the receiver.
type SignalingMessage struct {
	Type     string   `json:"type"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Sid      string   `json:"sid,omitempty"`
	RoomType string   `json:"roomType,omitempty"`
	Payload  *Payload `json:"payload,omitempty"`
}

// Payload carries the type-specific part of a signaling message. SDP is set
// for offers and answers, ICECandidate only for candidate messages.
type Payload struct {
	Type         string                   `json:"type,omitempty"`
	SDP          string                   `json:"sdp,omitempty"`
	Nick         string                   `json:"nick,omitempty"`
	ICECandidate *webrtc.ICECandidateInit `json:"iceCandidate,omitempty"`
}

// ParseSignalingMessage decodes and validates one converged signaling
// message. A malformed message yields an error and is meant to be dropped by
// the caller; it never panics and never partially dispatches.
func ParseSignalingMessage(b []byte) (*SignalingMessage, error) {
	var msg SignalingMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks the per-type payload requirements. Messages of unknown
// type pass validation; the receiver ignores them later.
func (m *SignalingMessage) Validate() error {
	switch m.Type {
	case MessageTypeOffer, MessageTypeAnswer:
		if m.From == "" {
			return ErrMissingFrom
		}
		if m.Payload == nil {
			return ErrMissingPayload
		}
	case MessageTypeCandidate:
		if m.From == "" {
			return ErrMissingFrom
		}
		if m.Payload == nil {
			return ErrMissingPayload
		}
		if m.Payload.ICECandidate == nil {
			return ErrMissingCandidate
		}
	case MessageTypeEndOfCandidates, MessageTypeUnshareScreen:
		if m.From == "" {
			return ErrMissingFrom
		}
	}
	return nil
}

// In-call bit flags reported for each participant in room updates.
const (
	InCallFlagDisconnected = 0
	InCallFlagInCall       = 1
	InCallFlagWithAudio    = 2
	InCallFlagWithVideo    = 4
	InCallFlagWithPhone    = 8
)

// Participant is one member of the room as reported by participant-list
// updates from either signaling backend.
type Participant struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Nick      string `json:"nick,omitempty"`
	InCall    int    `json:"inCall"`
}

// InCallAny reports whether the participant is in the call with any media.
func (p Participant) InCallAny() bool {
	return p.InCall&InCallFlagInCall != 0
}
