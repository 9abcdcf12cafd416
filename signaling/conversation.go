package signaling

import (
	"sync"

	"github.com/rs/zerolog"
)

// ConversationMessageNotifier fans out conversation-scoped events, currently
// typing indicators, to a set of global listeners.
type ConversationMessageNotifier struct {
	logger    zerolog.Logger
	mx        *sync.Mutex
	listeners []ConversationMessageListener
}

func NewConversationMessageNotifier(logger *zerolog.Logger) *ConversationMessageNotifier {
	return &ConversationMessageNotifier{
		logger: logger.With().Str("notifier", "conversation").Logger(),
		mx:     &sync.Mutex{},
	}
}

func (n *ConversationMessageNotifier) AddListener(listener ConversationMessageListener) {
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

func (n *ConversationMessageNotifier) RemoveListener(listener ConversationMessageListener) {
	n.mx.Lock()
	defer n.mx.Unlock()

	for i, l := range n.listeners {
		if l == listener {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

func (n *ConversationMessageNotifier) snapshot() []ConversationMessageListener {
	n.mx.Lock()
	defer n.mx.Unlock()

	return append([]ConversationMessageListener(nil), n.listeners...)
}

func (n *ConversationMessageNotifier) NotifyStartTyping(sessionID string) {
	for _, listener := range n.snapshot() {
		listener := listener
		invoke(&n.logger, "conversation", func() {
			listener.OnStartTyping(sessionID)
		})
	}
}

func (n *ConversationMessageNotifier) NotifyStopTyping(sessionID string) {
	for _, listener := range n.snapshot() {
		listener := listener
		invoke(&n.logger, "conversation", func() {
			listener.OnStopTyping(sessionID)
		})
	}
}
