package signaling

import (
	"github.com/rs/zerolog"

	"github.com/avolkov/talk-call/model"
)

// Receiver is the dispatch hub. It owns one notifier per message category
// and classifies each inbound message exactly once. Transports decode raw
// wire envelopes into model.SignalingMessage and hand them to
// ProcessSignalingMessage; room and conversation events arrive through the
// dedicated Process methods.
//
// Notifiers are independent: registration and dispatch on different
// categories may run concurrently, each category serializes on its own
// registry.
type Receiver struct {
	logger zerolog.Logger

	callParticipant  *CallParticipantMessageNotifier
	offer            *OfferMessageNotifier
	webrtc           *WebRTCMessageNotifier
	participantList  *ParticipantListMessageNotifier
	conversation     *ConversationMessageNotifier
	localParticipant *LocalParticipantMessageNotifier
}

func NewReceiver(logger *zerolog.Logger) *Receiver {
	recvLogger := logger.With().Str("component", "signaling-receiver").Logger()
	return &Receiver{
		logger:           recvLogger,
		callParticipant:  NewCallParticipantMessageNotifier(&recvLogger),
		offer:            NewOfferMessageNotifier(&recvLogger),
		webrtc:           NewWebRTCMessageNotifier(&recvLogger),
		participantList:  NewParticipantListMessageNotifier(&recvLogger),
		conversation:     NewConversationMessageNotifier(&recvLogger),
		localParticipant: NewLocalParticipantMessageNotifier(&recvLogger),
	}
}

// Typed registration pairs, one per listener kind. Each delegates to the
// matching notifier.

func (r *Receiver) AddCallParticipantMessageListener(l CallParticipantMessageListener, sessionID string) {
	r.callParticipant.AddListener(l, sessionID)
}

func (r *Receiver) RemoveCallParticipantMessageListener(l CallParticipantMessageListener) {
	r.callParticipant.RemoveListener(l)
}

func (r *Receiver) AddOfferMessageListener(l OfferMessageListener) {
	r.offer.AddListener(l)
}

func (r *Receiver) RemoveOfferMessageListener(l OfferMessageListener) {
	r.offer.RemoveListener(l)
}

func (r *Receiver) AddWebRTCMessageListener(l WebRTCMessageListener, sessionID, roomType string) {
	r.webrtc.AddListener(l, sessionID, roomType)
}

func (r *Receiver) RemoveWebRTCMessageListener(l WebRTCMessageListener) {
	r.webrtc.RemoveListener(l)
}

func (r *Receiver) AddParticipantListMessageListener(l ParticipantListMessageListener) {
	r.participantList.AddListener(l)
}

func (r *Receiver) RemoveParticipantListMessageListener(l ParticipantListMessageListener) {
	r.participantList.RemoveListener(l)
}

func (r *Receiver) AddConversationMessageListener(l ConversationMessageListener) {
	r.conversation.AddListener(l)
}

func (r *Receiver) RemoveConversationMessageListener(l ConversationMessageListener) {
	r.conversation.RemoveListener(l)
}

func (r *Receiver) AddLocalParticipantMessageListener(l LocalParticipantMessageListener) {
	r.localParticipant.AddListener(l)
}

func (r *Receiver) RemoveLocalParticipantMessageListener(l LocalParticipantMessageListener) {
	r.localParticipant.RemoveListener(l)
}

// ProcessSignalingMessage classifies one converged signaling message and
// fans it out. A message missing the payload its type requires is dropped
// with no listener invoked; unknown types are ignored. The wire format is
// occasionally incomplete, not adversarial, so drops are silent beyond a
// debug log.
//
// For offers the global offer notifier fires strictly before the keyed
// WebRTC notifier. The keyed lookup happens only after the offer dispatch
// returns, so a WebRTC listener registered from inside an offer callback
// still receives this same offer.
func (r *Receiver) ProcessSignalingMessage(msg *model.SignalingMessage) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case model.MessageTypeUnshareScreen:
		r.callParticipant.NotifyUnshareScreen(msg.From)

	case model.MessageTypeOffer:
		if msg.Payload == nil {
			r.dropMessage(msg, "offer without payload")
			return
		}
		r.offer.NotifyOffer(msg.From, msg.RoomType, msg.Payload.SDP, msg.Payload.Nick)
		r.webrtc.NotifyOffer(msg.From, msg.RoomType, msg.Payload.SDP, msg.Payload.Nick)

	case model.MessageTypeAnswer:
		if msg.Payload == nil {
			r.dropMessage(msg, "answer without payload")
			return
		}
		r.webrtc.NotifyAnswer(msg.From, msg.RoomType, msg.Payload.SDP, msg.Payload.Nick)

	case model.MessageTypeCandidate:
		if msg.Payload == nil || msg.Payload.ICECandidate == nil {
			r.dropMessage(msg, "candidate without ice candidate")
			return
		}
		candidate := msg.Payload.ICECandidate
		var (
			sdpMid        string
			sdpMLineIndex int
		)
		if candidate.SDPMid != nil {
			sdpMid = *candidate.SDPMid
		}
		if candidate.SDPMLineIndex != nil {
			sdpMLineIndex = int(*candidate.SDPMLineIndex)
		}
		r.webrtc.NotifyCandidate(msg.From, msg.RoomType, sdpMid, sdpMLineIndex, candidate.Candidate)

	case model.MessageTypeEndOfCandidates:
		r.webrtc.NotifyEndOfCandidates(msg.From, msg.RoomType)

	default:
		r.logger.Trace().
			Str("type", msg.Type).
			Str("from", msg.From).
			Msg("ignoring message of unknown type")
	}
}

func (r *Receiver) dropMessage(msg *model.SignalingMessage, reason string) {
	r.logger.Debug().
		Str("type", msg.Type).
		Str("from", msg.From).
		Str("roomType", msg.RoomType).
		Msg("dropped malformed message: " + reason)
}

// Room and conversation event entry points, driven by the transports.

func (r *Receiver) ProcessUsersInRoom(participants []model.Participant) {
	r.participantList.NotifyUsersInRoom(participants)
}

func (r *Receiver) ProcessParticipantsUpdate(participants []model.Participant) {
	r.participantList.NotifyParticipantsUpdate(participants)
}

func (r *Receiver) ProcessAllParticipantsUpdate(inCall int) {
	r.participantList.NotifyAllParticipantsUpdate(inCall)
}

func (r *Receiver) ProcessStartTyping(sessionID string) {
	r.conversation.NotifyStartTyping(sessionID)
}

func (r *Receiver) ProcessStopTyping(sessionID string) {
	r.conversation.NotifyStopTyping(sessionID)
}

func (r *Receiver) ProcessSwitchTo(token string) {
	r.localParticipant.NotifySwitchTo(token)
}
