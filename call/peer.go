package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/avolkov/talk-call/model"
	"github.com/avolkov/talk-call/signaling"
)

const defaultSendTimeout = 5 * time.Second

var (
	ErrPeerClosed = errors.New("peer connection is closed")
)

// Peer wraps one webrtc.PeerConnection bound to a (session, room type)
// pair. It implements signaling.WebRTCMessageListener, so once registered
// with the receiver it consumes negotiation messages for its key directly.
//
// Remote candidates arriving before the remote description are queued and
// drained once the description is set.
type Peer struct {
	logger    zerolog.Logger
	sender    signaling.MessageSender
	sessionID string
	roomType  string
	publisher bool

	mx            *sync.Mutex
	pc            *webrtc.PeerConnection
	pending       []webrtc.ICECandidateInit
	remoteDescSet bool
	closed        bool
	nick          string
}

func (p *Peer) SessionID() string { return p.sessionID }
func (p *Peer) RoomType() string  { return p.roomType }
func (p *Peer) Publisher() bool   { return p.publisher }

// Nick returns the display name last seen in a negotiation payload.
func (p *Peer) Nick() string {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.nick
}

// SendOffer creates a local offer and transmits it. Used for the initiating
// side (newly joined mesh participants and the MCU publisher connection).
func (p *Peer) SendOffer(ctx context.Context) error {
	p.mx.Lock()
	defer p.mx.Unlock()

	if p.closed {
		return ErrPeerClosed
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err = p.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return p.sender.Send(ctx, &model.SignalingMessage{
		Type:     model.MessageTypeOffer,
		To:       p.sessionID,
		RoomType: p.roomType,
		Payload: &model.Payload{
			Type: model.MessageTypeOffer,
			SDP:  offer.SDP,
		},
	})
}

// OnOffer handles a remote offer: set it, drain queued candidates, answer.
func (p *Peer) OnOffer(sdp, nick string) {
	p.mx.Lock()
	defer p.mx.Unlock()

	if p.closed {
		return
	}
	p.nick = nick

	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to set remote offer")
		return
	}
	p.remoteDescSet = true
	p.drainPendingLocked()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to create answer")
		return
	}
	if err = p.pc.SetLocalDescription(answer); err != nil {
		p.logger.Error().Err(err).Msg("failed to set local answer")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
	defer cancel()
	err = p.sender.Send(ctx, &model.SignalingMessage{
		Type:     model.MessageTypeAnswer,
		To:       p.sessionID,
		RoomType: p.roomType,
		Payload: &model.Payload{
			Type: model.MessageTypeAnswer,
			SDP:  answer.SDP,
		},
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to send answer")
	}
}

// OnAnswer handles the remote answer to a locally created offer.
func (p *Peer) OnAnswer(sdp, nick string) {
	p.mx.Lock()
	defer p.mx.Unlock()

	if p.closed {
		return
	}
	p.nick = nick

	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to set remote answer")
		return
	}
	p.remoteDescSet = true
	p.drainPendingLocked()
}

// OnCandidate adds one remote candidate, queueing it if the remote
// description is not set yet.
func (p *Peer) OnCandidate(sdpMid string, sdpMLineIndex int, sdp string) {
	p.mx.Lock()
	defer p.mx.Unlock()

	if p.closed {
		return
	}
	idx := uint16(sdpMLineIndex)
	candidate := webrtc.ICECandidateInit{
		Candidate:     sdp,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &idx,
	}
	if !p.remoteDescSet {
		p.pending = append(p.pending, candidate)
		return
	}
	if err := p.pc.AddICECandidate(candidate); err != nil {
		p.logger.Error().Err(err).Msg("failed to add remote candidate")
	}
}

// OnEndOfCandidates signals that the remote side finished trickling.
func (p *Peer) OnEndOfCandidates() {
	p.mx.Lock()
	defer p.mx.Unlock()

	if p.closed || !p.remoteDescSet {
		return
	}
	// An empty candidate is the end-of-candidates marker.
	if err := p.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: ""}); err != nil {
		p.logger.Debug().Err(err).Msg("failed to add end-of-candidates marker")
	}
}

func (p *Peer) drainPendingLocked() {
	for _, candidate := range p.pending {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			p.logger.Error().Err(err).Msg("failed to add queued candidate")
		}
	}
	p.pending = nil
}

func (p *Peer) Close() error {
	p.mx.Lock()
	defer p.mx.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.pending = nil
	return p.pc.Close()
}
