package signaling

import (
	"sync"

	"github.com/rs/zerolog"
)

type webRTCRecord struct {
	listener  WebRTCMessageListener
	sessionID string
	roomType  string
}

// WebRTCMessageNotifier fans out negotiation messages to listeners keyed by
// (session ID, room type). Keys match by exact string equality.
type WebRTCMessageNotifier struct {
	logger    zerolog.Logger
	mx        *sync.Mutex
	listeners []webRTCRecord
}

func NewWebRTCMessageNotifier(logger *zerolog.Logger) *WebRTCMessageNotifier {
	return &WebRTCMessageNotifier{
		logger: logger.With().Str("notifier", "webrtc").Logger(),
		mx:     &sync.Mutex{},
	}
}

// AddListener binds listener to (sessionID, roomType). Re-adding the same
// listener replaces its previous binding.
func (n *WebRTCMessageNotifier) AddListener(listener WebRTCMessageListener, sessionID, roomType string) {
	if listener == nil {
		return
	}
	n.mx.Lock()
	defer n.mx.Unlock()

	n.removeLocked(listener)
	n.listeners = append(n.listeners, webRTCRecord{
		listener:  listener,
		sessionID: sessionID,
		roomType:  roomType,
	})
}

func (n *WebRTCMessageNotifier) RemoveListener(listener WebRTCMessageListener) {
	n.mx.Lock()
	defer n.mx.Unlock()

	n.removeLocked(listener)
}

func (n *WebRTCMessageNotifier) removeLocked(listener WebRTCMessageListener) {
	for i, rec := range n.listeners {
		if rec.listener == listener {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

func (n *WebRTCMessageNotifier) matching(sessionID, roomType string) []WebRTCMessageListener {
	n.mx.Lock()
	defer n.mx.Unlock()

	var matched []WebRTCMessageListener
	for _, rec := range n.listeners {
		if rec.sessionID == sessionID && rec.roomType == roomType {
			matched = append(matched, rec.listener)
		}
	}
	return matched
}

func (n *WebRTCMessageNotifier) NotifyOffer(sessionID, roomType, sdp, nick string) {
	for _, listener := range n.matching(sessionID, roomType) {
		listener := listener
		invoke(&n.logger, "webrtc", func() {
			listener.OnOffer(sdp, nick)
		})
	}
}

func (n *WebRTCMessageNotifier) NotifyAnswer(sessionID, roomType, sdp, nick string) {
	for _, listener := range n.matching(sessionID, roomType) {
		listener := listener
		invoke(&n.logger, "webrtc", func() {
			listener.OnAnswer(sdp, nick)
		})
	}
}

func (n *WebRTCMessageNotifier) NotifyCandidate(sessionID, roomType, sdpMid string, sdpMLineIndex int, sdp string) {
	for _, listener := range n.matching(sessionID, roomType) {
		listener := listener
		invoke(&n.logger, "webrtc", func() {
			listener.OnCandidate(sdpMid, sdpMLineIndex, sdp)
		})
	}
}

func (n *WebRTCMessageNotifier) NotifyEndOfCandidates(sessionID, roomType string) {
	for _, listener := range n.matching(sessionID, roomType) {
		invoke(&n.logger, "webrtc", listener.OnEndOfCandidates)
	}
}
