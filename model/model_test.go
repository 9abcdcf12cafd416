package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignalingMessageOffer(t *testing.T) {
	raw := []byte(`{
		"type": "offer",
		"from": "sess-A",
		"roomType": "video",
		"payload": {"type": "offer", "sdp": "v=0...", "nick": "Alice"}
	}`)

	msg, err := ParseSignalingMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeOffer, msg.Type)
	assert.Equal(t, "sess-A", msg.From)
	assert.Equal(t, RoomTypeVideo, msg.RoomType)
	require.NotNil(t, msg.Payload)
	assert.Equal(t, "v=0...", msg.Payload.SDP)
	assert.Equal(t, "Alice", msg.Payload.Nick)
}

func TestParseSignalingMessageCandidate(t *testing.T) {
	raw := []byte(`{
		"type": "candidate",
		"from": "sess-A",
		"roomType": "screen",
		"payload": {"iceCandidate": {"candidate": "candidate:1 1 udp ...", "sdpMid": "0", "sdpMLineIndex": 1}}
	}`)

	msg, err := ParseSignalingMessage(raw)
	require.NoError(t, err)
	require.NotNil(t, msg.Payload)
	require.NotNil(t, msg.Payload.ICECandidate)
	assert.Equal(t, "candidate:1 1 udp ...", msg.Payload.ICECandidate.Candidate)
	require.NotNil(t, msg.Payload.ICECandidate.SDPMid)
	assert.Equal(t, "0", *msg.Payload.ICECandidate.SDPMid)
	require.NotNil(t, msg.Payload.ICECandidate.SDPMLineIndex)
	assert.Equal(t, uint16(1), *msg.Payload.ICECandidate.SDPMLineIndex)
}

func TestParseSignalingMessageMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		err  error
	}{
		{
			name: "offer without payload",
			raw:  `{"type": "offer", "from": "sess-A", "roomType": "video"}`,
			err:  ErrMissingPayload,
		},
		{
			name: "answer without payload",
			raw:  `{"type": "answer", "from": "sess-A", "roomType": "video"}`,
			err:  ErrMissingPayload,
		},
		{
			name: "candidate without ice candidate",
			raw:  `{"type": "candidate", "from": "sess-A", "roomType": "video", "payload": {}}`,
			err:  ErrMissingCandidate,
		},
		{
			name: "offer without sender",
			raw:  `{"type": "offer", "roomType": "video", "payload": {"sdp": "v=0..."}}`,
			err:  ErrMissingFrom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseSignalingMessage([]byte(tt.raw))
			assert.Nil(t, msg)
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

func TestParseSignalingMessageUnknownType(t *testing.T) {
	msg, err := ParseSignalingMessage([]byte(`{"type": "somethingNew", "from": "sess-A"}`))
	require.NoError(t, err)
	assert.Equal(t, "somethingNew", msg.Type)
}

func TestParseSignalingMessageInvalidJSON(t *testing.T) {
	msg, err := ParseSignalingMessage([]byte(`{`))
	assert.Nil(t, msg)
	assert.Error(t, err)
}

func TestParticipantInCallAny(t *testing.T) {
	assert.False(t, Participant{InCall: InCallFlagDisconnected}.InCallAny())
	assert.True(t, Participant{InCall: InCallFlagInCall}.InCallAny())
	assert.True(t, Participant{InCall: InCallFlagInCall | InCallFlagWithAudio | InCallFlagWithVideo}.InCallAny())
	assert.False(t, Participant{InCall: InCallFlagWithAudio}.InCallAny())
}
