package call

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/avolkov/talk-call/model"
	"github.com/avolkov/talk-call/signaling"
)

const defaultStunServer = "stun:stun.l.google.com:19302"

// Factory builds pion-backed peers sharing one media engine and one ICE
// server configuration.
type Factory struct {
	logger   zerolog.Logger
	sender   signaling.MessageSender
	api      *webrtc.API
	pcConfig webrtc.Configuration
}

type FactoryConfig struct {
	Logger     *zerolog.Logger
	Sender     signaling.MessageSender
	ICEServers []webrtc.ICEServer
}

func NewFactory(cfg FactoryConfig) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	iceServers := cfg.ICEServers
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{defaultStunServer}}}
	}

	return &Factory{
		logger: cfg.Logger.With().Str("component", "peer-factory").Logger(),
		sender: cfg.Sender,
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)),
		pcConfig: webrtc.Configuration{
			ICEServers: iceServers,
		},
	}, nil
}

// NewPeer constructs the peer connection for one (session, room type) pair.
// Publisher connections send local media towards the MCU, all others
// receive. Local candidates trickle out through the message sender as they
// are gathered.
func (f *Factory) NewPeer(sessionID, roomType string, publisher bool) (RemotePeer, error) {
	pc, err := f.api.NewPeerConnection(f.pcConfig)
	if err != nil {
		return nil, err
	}

	direction := webrtc.RTPTransceiverDirectionRecvonly
	if publisher {
		direction = webrtc.RTPTransceiverDirectionSendonly
	}
	transceiverInit := webrtc.RTPTransceiverInit{Direction: direction}
	if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, transceiverInit); err != nil {
		_ = pc.Close()
		return nil, err
	}
	if roomType == model.RoomTypeVideo || publisher {
		if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, transceiverInit); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	peer := &Peer{
		logger: f.logger.With().
			Str("sessionID", sessionID).
			Str("roomType", roomType).
			Logger(),
		sender:    f.sender,
		sessionID: sessionID,
		roomType:  roomType,
		publisher: publisher,
		mx:        &sync.Mutex{},
		pc:        pc,
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
		defer cancel()

		msg := &model.SignalingMessage{
			To:       sessionID,
			RoomType: roomType,
		}
		if candidate == nil {
			msg.Type = model.MessageTypeEndOfCandidates
		} else {
			init := candidate.ToJSON()
			msg.Type = model.MessageTypeCandidate
			msg.Payload = &model.Payload{ICECandidate: &init}
		}
		if sendErr := f.sender.Send(ctx, msg); sendErr != nil {
			peer.logger.Error().Err(sendErr).Msg("failed to send local candidate")
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		peer.logger.Debug().
			Str("state", state.String()).
			Msg("peer connection state changed")
	})

	return peer, nil
}
