package signaling

import (
	"context"

	"github.com/avolkov/talk-call/model"
)

// Listener interfaces, one per notifier category. Implementations are
// registered by identity: registering the same object again replaces its key
// binding on keyed notifiers and is a no-op on global ones. Implementations
// must therefore be comparable (in practice, pointers).

// CallParticipantMessageListener receives messages addressed to a single
// remote participant session regardless of room type.
type CallParticipantMessageListener interface {
	OnUnshareScreen()
}

// OfferMessageListener receives every offer, independent of any session
// binding. The call orchestrator uses it to create peer connections on
// demand for sessions it has not seen yet.
type OfferMessageListener interface {
	OnOffer(sessionID, roomType, sdp, nick string)
}

// WebRTCMessageListener receives WebRTC negotiation messages for one
// (session, room type) pair, typically a single peer connection.
type WebRTCMessageListener interface {
	OnOffer(sdp, nick string)
	OnAnswer(sdp, nick string)
	OnCandidate(sdpMid string, sdpMLineIndex int, sdp string)
	OnEndOfCandidates()
}

// ParticipantListMessageListener receives room membership updates.
type ParticipantListMessageListener interface {
	OnUsersInRoom(participants []model.Participant)
	OnParticipantsUpdate(participants []model.Participant)
	OnAllParticipantsUpdate(inCall int)
}

// ConversationMessageListener receives conversation-scoped events.
type ConversationMessageListener interface {
	OnStartTyping(sessionID string)
	OnStopTyping(sessionID string)
}

// LocalParticipantMessageListener receives events addressed to the local
// participant itself.
type LocalParticipantMessageListener interface {
	OnSwitchTo(token string)
}

// MessageSender is the outbound boundary. Each transport implements it with
// its own delivery semantics (batched REST with retries, or websocket
// fire-and-forget); none of that leaks through this interface.
type MessageSender interface {
	Send(ctx context.Context, msg *model.SignalingMessage) error
}
