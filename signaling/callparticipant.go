package signaling

import (
	"sync"

	"github.com/rs/zerolog"
)

type callParticipantRecord struct {
	listener  CallParticipantMessageListener
	sessionID string
}

// CallParticipantMessageNotifier fans out participant-addressed messages to
// listeners keyed by session ID.
type CallParticipantMessageNotifier struct {
	logger    zerolog.Logger
	mx        *sync.Mutex
	listeners []callParticipantRecord
}

func NewCallParticipantMessageNotifier(logger *zerolog.Logger) *CallParticipantMessageNotifier {
	return &CallParticipantMessageNotifier{
		logger: logger.With().Str("notifier", "call-participant").Logger(),
		mx:     &sync.Mutex{},
	}
}

// AddListener binds listener to sessionID. Re-adding the same listener
// replaces its previous binding.
func (n *CallParticipantMessageNotifier) AddListener(listener CallParticipantMessageListener, sessionID string) {
	if listener == nil {
		return
	}
	n.mx.Lock()
	defer n.mx.Unlock()

	n.removeLocked(listener)
	n.listeners = append(n.listeners, callParticipantRecord{
		listener:  listener,
		sessionID: sessionID,
	})
}

func (n *CallParticipantMessageNotifier) RemoveListener(listener CallParticipantMessageListener) {
	n.mx.Lock()
	defer n.mx.Unlock()

	n.removeLocked(listener)
}

func (n *CallParticipantMessageNotifier) removeLocked(listener CallParticipantMessageListener) {
	for i, rec := range n.listeners {
		if rec.listener == listener {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

func (n *CallParticipantMessageNotifier) matching(sessionID string) []CallParticipantMessageListener {
	n.mx.Lock()
	defer n.mx.Unlock()

	var matched []CallParticipantMessageListener
	for _, rec := range n.listeners {
		if rec.sessionID == sessionID {
			matched = append(matched, rec.listener)
		}
	}
	return matched
}

func (n *CallParticipantMessageNotifier) NotifyUnshareScreen(sessionID string) {
	for _, listener := range n.matching(sessionID) {
		invoke(&n.logger, "call-participant", listener.OnUnshareScreen)
	}
}
