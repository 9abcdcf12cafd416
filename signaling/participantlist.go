package signaling

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/avolkov/talk-call/model"
)

// ParticipantListMessageNotifier fans out room membership updates to a set
// of global listeners in registration order.
type ParticipantListMessageNotifier struct {
	logger    zerolog.Logger
	mx        *sync.Mutex
	listeners []ParticipantListMessageListener
}

func NewParticipantListMessageNotifier(logger *zerolog.Logger) *ParticipantListMessageNotifier {
	return &ParticipantListMessageNotifier{
		logger: logger.With().Str("notifier", "participant-list").Logger(),
		mx:     &sync.Mutex{},
	}
}

func (n *ParticipantListMessageNotifier) AddListener(listener ParticipantListMessageListener) {
	if listener == nil {
		return
	}
	n.mx.Lock()
	defer n.mx.Unlock()

	for _, l := range n.listeners {
		if l == listener {
			return
		}
	}
	n.listeners = append(n.listeners, listener)
}

func (n *ParticipantListMessageNotifier) RemoveListener(listener ParticipantListMessageListener) {
	n.mx.Lock()
	defer n.mx.Unlock()

	for i, l := range n.listeners {
		if l == listener {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

func (n *ParticipantListMessageNotifier) snapshot() []ParticipantListMessageListener {
	n.mx.Lock()
	defer n.mx.Unlock()

	return append([]ParticipantListMessageListener(nil), n.listeners...)
}

func (n *ParticipantListMessageNotifier) NotifyUsersInRoom(participants []model.Participant) {
	for _, listener := range n.snapshot() {
		listener := listener
		invoke(&n.logger, "participant-list", func() {
			listener.OnUsersInRoom(participants)
		})
	}
}

func (n *ParticipantListMessageNotifier) NotifyParticipantsUpdate(participants []model.Participant) {
	for _, listener := range n.snapshot() {
		listener := listener
		invoke(&n.logger, "participant-list", func() {
			listener.OnParticipantsUpdate(participants)
		})
	}
}

func (n *ParticipantListMessageNotifier) NotifyAllParticipantsUpdate(inCall int) {
	for _, listener := range n.snapshot() {
		listener := listener
		invoke(&n.logger, "participant-list", func() {
			listener.OnAllParticipantsUpdate(inCall)
		})
	}
}
