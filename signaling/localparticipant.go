package signaling

import (
	"sync"

	"github.com/rs/zerolog"
)

// LocalParticipantMessageNotifier fans out events addressed to the local
// participant to a set of global listeners.
type LocalParticipantMessageNotifier struct {
	logger    zerolog.Logger
	mx        *sync.Mutex
	listeners []LocalParticipantMessageListener
}

func NewLocalParticipantMessageNotifier(logger *zerolog.Logger) *LocalParticipantMessageNotifier {
	return &LocalParticipantMessageNotifier{
		logger: logger.With().Str("notifier", "local-participant").Logger(),
		mx:     &sync.Mutex{},
	}
}

func (n *LocalParticipantMessageNotifier) AddListener(listener LocalParticipantMessageListener) {
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

func (n *LocalParticipantMessageNotifier) RemoveListener(listener LocalParticipantMessageListener) {
	n.mx.Lock()
	defer n.mx.Unlock()

	for i, l := range n.listeners {
		if l == listener {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

func (n *LocalParticipantMessageNotifier) snapshot() []LocalParticipantMessageListener {
	n.mx.Lock()
	defer n.mx.Unlock()

	return append([]LocalParticipantMessageListener(nil), n.listeners...)
}

func (n *LocalParticipantMessageNotifier) NotifySwitchTo(token string) {
	for _, listener := range n.snapshot() {
		listener := listener
		invoke(&n.logger, "local-participant", func() {
			listener.OnSwitchTo(token)
		})
	}
}
