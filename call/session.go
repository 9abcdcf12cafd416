package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avolkov/talk-call/model"
	"github.com/avolkov/talk-call/signaling"
)

const (
	defaultJoinAttempts = 3
	defaultRetryDelay   = time.Second
)

var (
	ErrJoin         = errors.New("unable to join call")
	ErrLeave        = errors.New("unable to leave call")
	ErrReconnect    = errors.New("unable to reconnect call")
	ErrInvalidState = errors.New("operation not allowed in current call state")
)

type (
	// Backend performs the network calls that drive state transitions.
	// Transient failures are retried here with a bounded attempt count;
	// exhaustion surfaces as a state transition, never as a stuck session.
	Backend interface {
		JoinCall(ctx context.Context) error
		LeaveCall(ctx context.Context) error
	}

	// RemotePeer is one peer connection scoped to a (session, room type)
	// pair. It consumes negotiation messages as a WebRTC listener and is
	// closed when its session leaves the call.
	RemotePeer interface {
		signaling.WebRTCMessageListener
		SendOffer(ctx context.Context) error
		Close() error
	}

	PeerFactory interface {
		NewPeer(sessionID, roomType string, publisher bool) (RemotePeer, error)
	}

	Config struct {
		Logger         *zerolog.Logger
		Receiver       *signaling.Receiver
		Sender         signaling.MessageSender
		Backend        Backend
		Peers          PeerFactory
		LocalSessionID string
		// MCU selects publisher/subscriber topology instead of full mesh.
		MCU bool
		// RetryDelay is the pause between backend attempts. Zero means
		// the default of one second.
		RetryDelay time.Duration
	}

	peerKey struct {
		sessionID string
		roomType  string
	}

	// Session orchestrates one call: it owns the call state machine, the
	// registry of active peer connections and the listener bindings that
	// tie them to the signaling receiver.
	Session struct {
		logger         zerolog.Logger
		receiver       *signaling.Receiver
		sender         signaling.MessageSender
		backend        Backend
		factory        PeerFactory
		localSessionID string
		mcu            bool
		retryDelay     time.Duration

		mx              *sync.Mutex
		state           State
		peers           map[peerKey]RemotePeer
		unshare         map[string]*unshareScreenListener
		inCall          map[string]model.Participant
		sawInitialUsers bool
	}
)

// unshareScreenListener routes unshareScreen messages for one remote
// session to the teardown of that session's screen peer.
type unshareScreenListener struct {
	session   *Session
	sessionID string
}

func (l *unshareScreenListener) OnUnshareScreen() {
	l.session.removePeer(l.sessionID, model.RoomTypeScreen)
}

func NewSession(cfg Config) *Session {
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Session{
		logger: cfg.Logger.With().
			Str("component", "call-session").
			Str("sessionID", cfg.LocalSessionID).
			Logger(),
		receiver:       cfg.Receiver,
		sender:         cfg.Sender,
		backend:        cfg.Backend,
		factory:        cfg.Peers,
		localSessionID: cfg.LocalSessionID,
		mcu:            cfg.MCU,
		retryDelay:     retryDelay,
		mx:             &sync.Mutex{},
		state:          StateCalling,
		peers:          make(map[peerKey]RemotePeer),
		unshare:        make(map[string]*unshareScreenListener),
		inCall:         make(map[string]model.Participant),
	}
}

func (s *Session) State() State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

// Join performs the join-call network exchange and, on acknowledgment,
// moves to Established and registers the session with the receiver. Retry
// exhaustion moves to CallingTimeout instead.
func (s *Session) Join(ctx context.Context) error {
	s.mx.Lock()
	if s.state != StateCalling {
		s.mx.Unlock()
		return ErrInvalidState
	}
	s.mx.Unlock()

	err := withRetry(ctx, defaultJoinAttempts, s.retryDelay, s.backend.JoinCall)

	s.mx.Lock()
	defer s.mx.Unlock()

	if s.state == StateLeaving {
		// Hangup raced the join, nothing left to do.
		return nil
	}
	if err != nil {
		s.transitionLocked(StateCallingTimeout)
		return errors.Join(ErrJoin, err)
	}
	s.transitionLocked(StateEstablished)
	s.receiver.AddOfferMessageListener(s)
	s.receiver.AddParticipantListMessageListener(s)

	if s.mcu {
		publisher, peerErr := s.ensurePeerLocked(s.localSessionID, model.RoomTypeVideo, true)
		if peerErr != nil {
			return nil
		}
		go s.sendOffer(publisher)
	}
	return nil
}

// Hangup terminates the session. Leaving is terminal and reachable from any
// state; once set, no further signaling is processed.
func (s *Session) Hangup(ctx context.Context) error {
	s.mx.Lock()
	if s.state == StateLeaving {
		s.mx.Unlock()
		return nil
	}
	s.logger.Info().
		Str("from", s.state.String()).
		Str("to", StateLeaving.String()).
		Msg("call state changed")
	s.state = StateLeaving

	s.receiver.RemoveOfferMessageListener(s)
	s.receiver.RemoveParticipantListMessageListener(s)
	for key := range s.peers {
		s.removePeerLocked(key)
	}
	for sessionID, listener := range s.unshare {
		s.receiver.RemoveCallParticipantMessageListener(listener)
		delete(s.unshare, sessionID)
	}
	s.inCall = make(map[string]model.Participant)
	s.mx.Unlock()

	if err := withRetry(ctx, defaultJoinAttempts, s.retryDelay, s.backend.LeaveCall); err != nil {
		return errors.Join(ErrLeave, err)
	}
	return nil
}

// HandleNetworkLoss moves an established session to Reconnecting.
func (s *Session) HandleNetworkLoss() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.transitionLocked(StateReconnecting)
}

// Reconnect resumes a session after network loss. Retry exhaustion moves to
// Offline; a later Reconnect call may try again from there.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mx.Lock()
	switch s.state {
	case StateReconnecting:
	case StateOffline:
		s.transitionLocked(StateReconnecting)
	default:
		s.mx.Unlock()
		return ErrInvalidState
	}
	s.mx.Unlock()

	err := withRetry(ctx, defaultJoinAttempts, s.retryDelay, s.backend.JoinCall)

	s.mx.Lock()
	defer s.mx.Unlock()

	if s.state != StateReconnecting {
		return nil
	}
	if err != nil {
		s.transitionLocked(StateOffline)
		return errors.Join(ErrReconnect, err)
	}
	s.transitionLocked(StateEstablished)
	return nil
}

// ProcessSignalingMessage gates inbound messages on the call state before
// handing them to the receiver. Anything arriving outside Established is
// discarded without touching any listener.
func (s *Session) ProcessSignalingMessage(msg *model.SignalingMessage) {
	s.mx.Lock()
	state := s.state
	s.mx.Unlock()

	if state != StateEstablished {
		if msg != nil {
			s.logger.Debug().
				Str("type", msg.Type).
				Str("state", state.String()).
				Msg("discarding message outside established state")
		}
		return
	}
	s.receiver.ProcessSignalingMessage(msg)
}

// Event passthroughs for the transports. Leaving short-circuits them all.

func (s *Session) ProcessUsersInRoom(participants []model.Participant) {
	if s.State() == StateLeaving {
		return
	}
	s.receiver.ProcessUsersInRoom(participants)
}

func (s *Session) ProcessParticipantsUpdate(participants []model.Participant) {
	if s.State() == StateLeaving {
		return
	}
	s.receiver.ProcessParticipantsUpdate(participants)
}

func (s *Session) ProcessAllParticipantsUpdate(inCall int) {
	if s.State() == StateLeaving {
		return
	}
	s.receiver.ProcessAllParticipantsUpdate(inCall)
}

func (s *Session) ProcessStartTyping(sessionID string) {
	if s.State() == StateLeaving {
		return
	}
	s.receiver.ProcessStartTyping(sessionID)
}

func (s *Session) ProcessStopTyping(sessionID string) {
	if s.State() == StateLeaving {
		return
	}
	s.receiver.ProcessStopTyping(sessionID)
}

func (s *Session) ProcessSwitchTo(token string) {
	if s.State() == StateLeaving {
		return
	}
	s.receiver.ProcessSwitchTo(token)
}

// OnOffer creates the answering-side peer connection for sessions without
// one. The offer itself is not forwarded here: the receiver notifies the
// freshly registered WebRTC listener right after this callback returns.
func (s *Session) OnOffer(sessionID, roomType, _, _ string) {
	if sessionID == "" || sessionID == s.localSessionID {
		return
	}
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.state != StateEstablished {
		return
	}
	if _, ok := s.peers[peerKey{sessionID: sessionID, roomType: roomType}]; ok {
		return
	}
	_, _ = s.ensurePeerLocked(sessionID, roomType, false)
}

func (s *Session) OnUsersInRoom(participants []model.Participant) {
	s.updateMembership(participants)
}

func (s *Session) OnParticipantsUpdate(participants []model.Participant) {
	s.updateMembership(participants)
}

// OnAllParticipantsUpdate handles the broadcast flag change that reports
// every participant at once. A disconnected flag means the call ended for
// everyone: all remote connections go away.
func (s *Session) OnAllParticipantsUpdate(inCall int) {
	if inCall != model.InCallFlagDisconnected {
		return
	}
	s.mx.Lock()
	defer s.mx.Unlock()

	for key := range s.peers {
		if key.sessionID == s.localSessionID {
			continue
		}
		s.removePeerLocked(key)
	}
	for sessionID, listener := range s.unshare {
		s.receiver.RemoveCallParticipantMessageListener(listener)
		delete(s.unshare, sessionID)
	}
	s.inCall = make(map[string]model.Participant)
}

// updateMembership diffs the reported in-call sessions against the known
// set. The initial snapshot only records membership: peers towards sessions
// already in the call are created once their offers arrive, which keeps
// both sides from offering to each other. Sessions joining later get a
// connection from us; in MCU mode that connection waits for the MCU's
// offer instead of sending one.
func (s *Session) updateMembership(participants []model.Participant) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.state != StateEstablished {
		return
	}

	current := make(map[string]model.Participant, len(participants))
	for _, participant := range participants {
		if participant.SessionID == "" || participant.SessionID == s.localSessionID {
			continue
		}
		if participant.InCallAny() {
			current[participant.SessionID] = participant
		}
	}

	var joined []RemotePeer
	if !s.sawInitialUsers {
		s.sawInitialUsers = true
	} else {
		for sessionID := range current {
			if _, known := s.inCall[sessionID]; known {
				continue
			}
			peer, err := s.ensurePeerLocked(sessionID, model.RoomTypeVideo, false)
			if err != nil {
				continue
			}
			if !s.mcu {
				joined = append(joined, peer)
			}
		}
	}

	for sessionID := range s.inCall {
		if _, still := current[sessionID]; still {
			continue
		}
		s.removeSessionLocked(sessionID)
	}
	s.inCall = current

	for _, peer := range joined {
		go s.sendOffer(peer)
	}
}

func (s *Session) sendOffer(peer RemotePeer) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
	defer cancel()
	if err := peer.SendOffer(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to send offer")
	}
}

// ensurePeerLocked creates and registers the peer for a key if missing.
// Listeners are bound only after successful construction.
func (s *Session) ensurePeerLocked(sessionID, roomType string, publisher bool) (RemotePeer, error) {
	key := peerKey{sessionID: sessionID, roomType: roomType}
	if peer, ok := s.peers[key]; ok {
		return peer, nil
	}

	peer, err := s.factory.NewPeer(sessionID, roomType, publisher)
	if err != nil {
		s.logger.Error().Err(err).
			Str("sessionID", sessionID).
			Str("roomType", roomType).
			Msg("failed to create peer connection")
		return nil, err
	}
	s.peers[key] = peer
	s.receiver.AddWebRTCMessageListener(peer, sessionID, roomType)

	if !publisher {
		if _, ok := s.unshare[sessionID]; !ok {
			listener := &unshareScreenListener{session: s, sessionID: sessionID}
			s.unshare[sessionID] = listener
			s.receiver.AddCallParticipantMessageListener(listener, sessionID)
		}
	}

	s.logger.Debug().
		Str("sessionID", sessionID).
		Str("roomType", roomType).
		Bool("publisher", publisher).
		Msg("peer connection created")
	return peer, nil
}

func (s *Session) removePeer(sessionID, roomType string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.removePeerLocked(peerKey{sessionID: sessionID, roomType: roomType})
}

// removePeerLocked unbinds the peer's listeners before closing it, so a
// message for its former key can never reach it again.
func (s *Session) removePeerLocked(key peerKey) {
	peer, ok := s.peers[key]
	if !ok {
		return
	}
	delete(s.peers, key)
	s.receiver.RemoveWebRTCMessageListener(peer)
	if err := peer.Close(); err != nil {
		s.logger.Error().Err(err).
			Str("sessionID", key.sessionID).
			Str("roomType", key.roomType).
			Msg("failed to close peer connection")
	}
	s.logger.Debug().
		Str("sessionID", key.sessionID).
		Str("roomType", key.roomType).
		Msg("peer connection removed")
}

func (s *Session) removeSessionLocked(sessionID string) {
	s.removePeerLocked(peerKey{sessionID: sessionID, roomType: model.RoomTypeVideo})
	s.removePeerLocked(peerKey{sessionID: sessionID, roomType: model.RoomTypeScreen})
	if listener, ok := s.unshare[sessionID]; ok {
		s.receiver.RemoveCallParticipantMessageListener(listener)
		delete(s.unshare, sessionID)
	}
}

func (s *Session) transitionLocked(next State) bool {
	if !s.state.CanTransition(next) {
		s.logger.Warn().
			Str("from", s.state.String()).
			Str("to", next.String()).
			Msg("illegal call state transition ignored")
		return false
	}
	s.logger.Info().
		Str("from", s.state.String()).
		Str("to", next.String()).
		Msg("call state changed")
	s.state = next
	return true
}

func withRetry(ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(delay):
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}
