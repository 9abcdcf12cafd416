package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/talk-call/model"
	"github.com/avolkov/talk-call/signaling"
)

const localSession = "sess-local"

type fakeBackend struct {
	mx         sync.Mutex
	failJoin   bool
	joinCalls  int
	leaveCalls int
}

func (b *fakeBackend) JoinCall(context.Context) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.joinCalls++
	if b.failJoin {
		return errors.New("backend unavailable")
	}
	return nil
}

func (b *fakeBackend) LeaveCall(context.Context) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.leaveCalls++
	return nil
}

func (b *fakeBackend) joins() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.joinCalls
}

func (b *fakeBackend) leaves() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.leaveCalls
}

func (b *fakeBackend) setFailJoin(fail bool) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.failJoin = fail
}

type fakePeer struct {
	mx         sync.Mutex
	sessionID  string
	roomType   string
	publisher  bool
	offers     [][2]string
	candidates int
	offersSent int
	closed     bool
}

func (p *fakePeer) OnOffer(sdp, nick string) {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.offers = append(p.offers, [2]string{sdp, nick})
}

func (p *fakePeer) OnAnswer(string, string) {}

func (p *fakePeer) OnCandidate(string, int, string) {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.candidates++
}

func (p *fakePeer) OnEndOfCandidates() {}

func (p *fakePeer) SendOffer(context.Context) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.offersSent++
	return nil
}

func (p *fakePeer) Close() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) offerCount() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	return len(p.offers)
}

func (p *fakePeer) candidateCount() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.candidates
}

func (p *fakePeer) sentOffers() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.offersSent
}

func (p *fakePeer) isClosed() bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.closed
}

type fakeFactory struct {
	mx      sync.Mutex
	fail    bool
	created []*fakePeer
}

func (f *fakeFactory) NewPeer(sessionID, roomType string, publisher bool) (RemotePeer, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.fail {
		return nil, errors.New("peer construction failed")
	}
	peer := &fakePeer{sessionID: sessionID, roomType: roomType, publisher: publisher}
	f.created = append(f.created, peer)
	return peer, nil
}

func (f *fakeFactory) peerFor(sessionID, roomType string) *fakePeer {
	f.mx.Lock()
	defer f.mx.Unlock()
	for _, peer := range f.created {
		if peer.sessionID == sessionID && peer.roomType == roomType {
			return peer
		}
	}
	return nil
}

func (f *fakeFactory) count() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return len(f.created)
}

type fakeSender struct {
	mx   sync.Mutex
	sent []*model.SignalingMessage
}

func (s *fakeSender) Send(_ context.Context, msg *model.SignalingMessage) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func newTestSession(backend *fakeBackend, factory *fakeFactory, mcu bool) (*Session, *signaling.Receiver) {
	logger := zerolog.Nop()
	receiver := signaling.NewReceiver(&logger)
	session := NewSession(Config{
		Logger:         &logger,
		Receiver:       receiver,
		Sender:         &fakeSender{},
		Backend:        backend,
		Peers:          factory,
		LocalSessionID: localSession,
		MCU:            mcu,
		RetryDelay:     time.Millisecond,
	})
	return session, receiver
}

func inCall(sessionIDs ...string) []model.Participant {
	participants := make([]model.Participant, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		participants = append(participants, model.Participant{
			SessionID: id,
			InCall:    model.InCallFlagInCall | model.InCallFlagWithAudio,
		})
	}
	return participants
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateCalling.CanTransition(StateEstablished))
	assert.True(t, StateCalling.CanTransition(StateCallingTimeout))
	assert.True(t, StateEstablished.CanTransition(StateReconnecting))
	assert.True(t, StateReconnecting.CanTransition(StateEstablished))
	assert.True(t, StateReconnecting.CanTransition(StateOffline))
	assert.True(t, StateOffline.CanTransition(StateReconnecting))

	assert.False(t, StateCalling.CanTransition(StateReconnecting))
	assert.False(t, StateEstablished.CanTransition(StateCalling))
	assert.False(t, StateLeaving.CanTransition(StateEstablished))
	assert.False(t, StateOffline.CanTransition(StateEstablished))
}

func TestSessionJoinEstablishes(t *testing.T) {
	backend := &fakeBackend{}
	session, _ := newTestSession(backend, &fakeFactory{}, false)

	require.NoError(t, session.Join(context.Background()))
	assert.Equal(t, StateEstablished, session.State())
	assert.Equal(t, 1, backend.joins())
}

func TestSessionJoinRetriesThenTimesOut(t *testing.T) {
	backend := &fakeBackend{failJoin: true}
	session, _ := newTestSession(backend, &fakeFactory{}, false)

	err := session.Join(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJoin))
	assert.Equal(t, 3, backend.joins())
	assert.Equal(t, StateCallingTimeout, session.State())
}

func TestSessionReconnectCycle(t *testing.T) {
	backend := &fakeBackend{}
	session, _ := newTestSession(backend, &fakeFactory{}, false)
	require.NoError(t, session.Join(context.Background()))

	session.HandleNetworkLoss()
	assert.Equal(t, StateReconnecting, session.State())

	require.NoError(t, session.Reconnect(context.Background()))
	assert.Equal(t, StateEstablished, session.State())
}

func TestSessionReconnectExhaustionGoesOffline(t *testing.T) {
	backend := &fakeBackend{}
	session, _ := newTestSession(backend, &fakeFactory{}, false)
	require.NoError(t, session.Join(context.Background()))
	session.HandleNetworkLoss()

	backend.setFailJoin(true)
	err := session.Reconnect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReconnect))
	assert.Equal(t, StateOffline, session.State())
	assert.Equal(t, 4, backend.joins())

	// Offline is not terminal: a later reconnect may succeed.
	backend.setFailJoin(false)
	require.NoError(t, session.Reconnect(context.Background()))
	assert.Equal(t, StateEstablished, session.State())
}

func TestSessionDiscardsMessagesOutsideEstablished(t *testing.T) {
	backend := &fakeBackend{}
	session, receiver := newTestSession(backend, &fakeFactory{}, false)

	listener := &fakePeer{}
	receiver.AddWebRTCMessageListener(listener, "sess-A", model.RoomTypeVideo)

	msg := &model.SignalingMessage{
		Type:     model.MessageTypeOffer,
		From:     "sess-A",
		RoomType: model.RoomTypeVideo,
		Payload:  &model.Payload{SDP: "v=0...", Nick: "Alice"},
	}

	session.ProcessSignalingMessage(msg)
	assert.Zero(t, listener.offerCount(), "no dispatch while calling")

	require.NoError(t, session.Join(context.Background()))
	session.ProcessSignalingMessage(msg)
	assert.Equal(t, 1, listener.offerCount())

	session.HandleNetworkLoss()
	session.ProcessSignalingMessage(msg)
	assert.Equal(t, 1, listener.offerCount(), "no dispatch while reconnecting")
}

func TestSessionCreatesAnsweringPeerOnOffer(t *testing.T) {
	factory := &fakeFactory{}
	session, _ := newTestSession(&fakeBackend{}, factory, false)
	require.NoError(t, session.Join(context.Background()))

	session.ProcessSignalingMessage(&model.SignalingMessage{
		Type:     model.MessageTypeOffer,
		From:     "sess-X",
		RoomType: model.RoomTypeVideo,
		Payload:  &model.Payload{SDP: "v=0...", Nick: "Xenia"},
	})

	peer := factory.peerFor("sess-X", model.RoomTypeVideo)
	require.NotNil(t, peer, "offer for unknown session must create a peer")
	assert.False(t, peer.publisher)
	// The peer registered during the global offer dispatch still receives
	// this same offer through the keyed notification.
	require.Equal(t, 1, peer.offerCount())
	assert.Zero(t, peer.sentOffers(), "answering side must not send an offer")
}

func TestSessionMembershipDiff(t *testing.T) {
	factory := &fakeFactory{}
	session, _ := newTestSession(&fakeBackend{}, factory, false)
	require.NoError(t, session.Join(context.Background()))

	// Initial snapshot records membership without creating connections;
	// sessions already in the call offer to us.
	session.ProcessUsersInRoom(inCall("sess-A"))
	assert.Zero(t, factory.count())

	// A session joining later gets a connection and an offer from us.
	session.ProcessUsersInRoom(inCall("sess-A", "sess-B"))
	peerB := factory.peerFor("sess-B", model.RoomTypeVideo)
	require.NotNil(t, peerB)
	require.Eventually(t, func() bool {
		return peerB.sentOffers() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSessionTearsDownDepartedSessions(t *testing.T) {
	factory := &fakeFactory{}
	session, _ := newTestSession(&fakeBackend{}, factory, false)
	require.NoError(t, session.Join(context.Background()))

	session.ProcessUsersInRoom(inCall("sess-A"))
	session.ProcessSignalingMessage(&model.SignalingMessage{
		Type:     model.MessageTypeOffer,
		From:     "sess-A",
		RoomType: model.RoomTypeVideo,
		Payload:  &model.Payload{SDP: "v=0...", Nick: "Alice"},
	})
	peer := factory.peerFor("sess-A", model.RoomTypeVideo)
	require.NotNil(t, peer)

	session.ProcessUsersInRoom(inCall())

	assert.True(t, peer.isClosed())

	// Messages for the former key must never reach the removed peer.
	sdpMid := "0"
	idx := uint16(0)
	session.ProcessSignalingMessage(&model.SignalingMessage{
		Type:     model.MessageTypeCandidate,
		From:     "sess-A",
		RoomType: model.RoomTypeVideo,
		Payload: &model.Payload{ICECandidate: &webrtc.ICECandidateInit{
			Candidate:     "candidate:1 1 udp ...",
			SDPMid:        &sdpMid,
			SDPMLineIndex: &idx,
		}},
	})
	assert.Zero(t, peer.candidateCount())
	assert.Equal(t, 1, peer.offerCount())
}

func TestSessionAllParticipantsDisconnected(t *testing.T) {
	factory := &fakeFactory{}
	session, _ := newTestSession(&fakeBackend{}, factory, false)
	require.NoError(t, session.Join(context.Background()))

	session.ProcessSignalingMessage(&model.SignalingMessage{
		Type:     model.MessageTypeOffer,
		From:     "sess-A",
		RoomType: model.RoomTypeVideo,
		Payload:  &model.Payload{SDP: "v=0...", Nick: "Alice"},
	})
	peer := factory.peerFor("sess-A", model.RoomTypeVideo)
	require.NotNil(t, peer)

	session.ProcessAllParticipantsUpdate(model.InCallFlagDisconnected)
	assert.True(t, peer.isClosed())
}

func TestSessionUnshareScreenRemovesScreenPeer(t *testing.T) {
	factory := &fakeFactory{}
	session, _ := newTestSession(&fakeBackend{}, factory, false)
	require.NoError(t, session.Join(context.Background()))

	for _, roomType := range []string{model.RoomTypeVideo, model.RoomTypeScreen} {
		session.ProcessSignalingMessage(&model.SignalingMessage{
			Type:     model.MessageTypeOffer,
			From:     "sess-A",
			RoomType: roomType,
			Payload:  &model.Payload{SDP: "v=0...", Nick: "Alice"},
		})
	}
	video := factory.peerFor("sess-A", model.RoomTypeVideo)
	screen := factory.peerFor("sess-A", model.RoomTypeScreen)
	require.NotNil(t, video)
	require.NotNil(t, screen)

	session.ProcessSignalingMessage(&model.SignalingMessage{
		Type:     model.MessageTypeUnshareScreen,
		From:     "sess-A",
		RoomType: model.RoomTypeScreen,
	})

	assert.True(t, screen.isClosed())
	assert.False(t, video.isClosed())
}

func TestSessionHangupIsTerminal(t *testing.T) {
	backend := &fakeBackend{}
	factory := &fakeFactory{}
	session, _ := newTestSession(backend, factory, false)
	require.NoError(t, session.Join(context.Background()))

	session.ProcessSignalingMessage(&model.SignalingMessage{
		Type:     model.MessageTypeOffer,
		From:     "sess-A",
		RoomType: model.RoomTypeVideo,
		Payload:  &model.Payload{SDP: "v=0...", Nick: "Alice"},
	})
	peer := factory.peerFor("sess-A", model.RoomTypeVideo)
	require.NotNil(t, peer)

	require.NoError(t, session.Hangup(context.Background()))
	assert.Equal(t, StateLeaving, session.State())
	assert.Equal(t, 1, backend.leaves())
	assert.True(t, peer.isClosed())

	session.ProcessSignalingMessage(&model.SignalingMessage{
		Type:     model.MessageTypeOffer,
		From:     "sess-B",
		RoomType: model.RoomTypeVideo,
		Payload:  &model.Payload{SDP: "v=0...", Nick: "Bob"},
	})
	assert.Equal(t, 1, factory.count(), "no new peers after hangup")

	assert.ErrorIs(t, session.Reconnect(context.Background()), ErrInvalidState)
	assert.ErrorIs(t, session.Join(context.Background()), ErrInvalidState)
	require.NoError(t, session.Hangup(context.Background()))
	assert.Equal(t, 1, backend.leaves(), "second hangup is a no-op")
}

func TestSessionMCUTopology(t *testing.T) {
	factory := &fakeFactory{}
	session, _ := newTestSession(&fakeBackend{}, factory, true)
	require.NoError(t, session.Join(context.Background()))

	publisher := factory.peerFor(localSession, model.RoomTypeVideo)
	require.NotNil(t, publisher, "joining with MCU must create the publisher connection")
	assert.True(t, publisher.publisher)
	require.Eventually(t, func() bool {
		return publisher.sentOffers() == 1
	}, time.Second, 5*time.Millisecond)

	session.ProcessUsersInRoom(inCall("sess-A"))
	session.ProcessUsersInRoom(inCall("sess-A", "sess-B"))

	subscriber := factory.peerFor("sess-B", model.RoomTypeVideo)
	require.NotNil(t, subscriber)
	assert.False(t, subscriber.publisher)
	assert.Zero(t, subscriber.sentOffers(), "subscribers wait for the MCU's offer")
}

func TestSessionFactoryFailureRegistersNothing(t *testing.T) {
	factory := &fakeFactory{fail: true}
	session, _ := newTestSession(&fakeBackend{}, factory, false)
	require.NoError(t, session.Join(context.Background()))

	offer := &model.SignalingMessage{
		Type:     model.MessageTypeOffer,
		From:     "sess-A",
		RoomType: model.RoomTypeVideo,
		Payload:  &model.Payload{SDP: "v=0...", Nick: "Alice"},
	}
	require.NotPanics(t, func() {
		session.ProcessSignalingMessage(offer)
		session.ProcessUsersInRoom(inCall("sess-A"))
		session.ProcessUsersInRoom(inCall("sess-A", "sess-B"))
	})
	assert.Zero(t, factory.count())
}
