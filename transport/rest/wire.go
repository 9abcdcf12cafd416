package rest

import "encoding/json"

// Wire envelopes of the internal signaling server.

type internalEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type allParticipantsUpdate struct {
	InCall int `json:"inCall"`
}

type switchToUpdate struct {
	Token string `json:"token"`
}

// outgoingEnvelope wraps one outbound message; batches are posted as a
// JSON array of these.
type outgoingEnvelope struct {
	Ev        string `json:"ev"`
	Fn        string `json:"fn"`
	SessionID string `json:"sessionId"`
}
