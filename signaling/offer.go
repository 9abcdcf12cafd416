package signaling

import (
	"sync"

	"github.com/rs/zerolog"
)

// OfferMessageNotifier fans out every offer to a set of global listeners in
// registration order. Adding a listener twice is a no-op.
type OfferMessageNotifier struct {
	logger    zerolog.Logger
	mx        *sync.Mutex
	listeners []OfferMessageListener
}

func NewOfferMessageNotifier(logger *zerolog.Logger) *OfferMessageNotifier {
	return &OfferMessageNotifier{
		logger: logger.With().Str("notifier", "offer").Logger(),
		mx:     &sync.Mutex{},
	}
}

func (n *OfferMessageNotifier) AddListener(listener OfferMessageListener) {
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

func (n *OfferMessageNotifier) RemoveListener(listener OfferMessageListener) {
	n.mx.Lock()
	defer n.mx.Unlock()

	for i, l := range n.listeners {
		if l == listener {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

func (n *OfferMessageNotifier) snapshot() []OfferMessageListener {
	n.mx.Lock()
	defer n.mx.Unlock()

	return append([]OfferMessageListener(nil), n.listeners...)
}

func (n *OfferMessageNotifier) NotifyOffer(sessionID, roomType, sdp, nick string) {
	for _, listener := range n.snapshot() {
		listener := listener
		invoke(&n.logger, "offer", func() {
			listener.OnOffer(sessionID, roomType, sdp, nick)
		})
	}
}
