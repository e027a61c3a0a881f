package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/rtpcontrol/internal/sdp"
)

func TestOutboundEncoding(t *testing.T) {
	target := sdp.Remote{Port: 20000, IP: "192.168.0.200", Audio: sdp.RemoteAudio{Payloads: []int{8}}}

	tests := []struct {
		name string
		msg  Outbound
		want string
	}{
		{
			name: "open carries id and target",
			msg:  Open("abc", &target),
			want: `{"channel":"open","id":"abc","target":{"port":20000,"ip":"192.168.0.200","audio":{"payloads":[8]}}}`,
		},
		{
			name: "open without target",
			msg:  Open("abc", nil),
			want: `{"channel":"open","id":"abc"}`,
		},
		{
			name: "target",
			msg:  Target("u1", target),
			want: `{"channel":"target","uuid":"u1","target":{"port":20000,"ip":"192.168.0.200","audio":{"payloads":[8]}}}`,
		},
		{
			name: "rfc2833 keeps zero payload",
			msg:  RFC2833("u1", 0),
			want: `{"channel":"rfc2833","uuid":"u1","pt":0}`,
		},
		{
			name: "mix sends a uuid pair",
			msg:  Mix("u1", "u2"),
			want: `{"channel":"mix","uuid":["u1","u2"]}`,
		},
		{
			name: "unmix",
			msg:  Unmix("u1"),
			want: `{"channel":"unmix","uuid":"u1"}`,
		},
		{
			name: "play",
			msg:  Play("u1", map[string]any{"files": []map[string]string{{"wav": "ringing.wav"}}}),
			want: `{"channel":"play","uuid":"u1","soup":{"files":[{"wav":"ringing.wav"}]}}`,
		},
		{
			name: "echo",
			msg:  Echo("u1"),
			want: `{"channel":"echo","uuid":"u1"}`,
		},
		{
			name: "close",
			msg:  Close("u1"),
			want: `{"channel":"close","uuid":"u1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestUUIDsUnmarshal(t *testing.T) {
	var single UUIDs
	require.NoError(t, json.Unmarshal([]byte(`"u1"`), &single))
	assert.Equal(t, UUIDs{"u1"}, single)

	var pair UUIDs
	require.NoError(t, json.Unmarshal([]byte(`["u1","u2"]`), &pair))
	assert.Equal(t, UUIDs{"u1", "u2"}, pair)

	var bad UUIDs
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestDecodeConnected(t *testing.T) {
	in, err := Decode([]byte(`{"action":"connected","instance":"engine-1","status":{"channels":{"available":100,"active":3}}}`))
	require.NoError(t, err)

	c, ok := in.(*Connected)
	require.True(t, ok, "got %T", in)
	assert.Equal(t, "engine-1", c.Instance)
	require.NotNil(t, c.StatusReport())
	assert.Equal(t, 100, c.StatusReport().Channels.Available)
	assert.Equal(t, 3, c.StatusReport().Channels.Active)
}

func TestDecodeOpened(t *testing.T) {
	in, err := Decode([]byte(`{"action":"open","id":"abc","channel":{"uuid":"u1","ip":"10.0.0.2","port":10002},"status":{"channels":{"available":99,"active":4}}}`))
	require.NoError(t, err)

	o, ok := in.(*Opened)
	require.True(t, ok, "got %T", in)
	assert.Equal(t, ActionOpen, o.Action())
	assert.Equal(t, "abc", o.ID)
	assert.Equal(t, "u1", o.UUID())
	assert.Equal(t, ChannelInfo{UUID: "u1", IP: "10.0.0.2", Port: 10002}, *o.Channel)
}

func TestDecodeTelephoneEvent(t *testing.T) {
	in, err := Decode([]byte(`{"action":"telephone-event","id":"abc","event":"5"}`))
	require.NoError(t, err)

	ev, ok := in.(*TelephoneEvent)
	require.True(t, ok, "got %T", in)
	assert.JSONEq(t, `"5"`, string(ev.Event))
	assert.Nil(t, ev.StatusReport())
	assert.Empty(t, ev.UUID())
}

func TestDecodeClosedAndUnknown(t *testing.T) {
	in, err := Decode([]byte(`{"action":"close","id":"abc","reason":"requested"}`))
	require.NoError(t, err)
	_, ok := in.(*Closed)
	assert.True(t, ok, "got %T", in)

	raw := `{"action":"stats","id":"abc"}`
	in, err = Decode([]byte(raw))
	require.NoError(t, err)
	u, ok := in.(*Unknown)
	require.True(t, ok, "got %T", in)
	assert.Equal(t, Action("stats"), u.Action())
	assert.JSONEq(t, raw, string(u.Raw))
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte(`{"action":`))
	assert.Error(t, err)
}

func TestEncodeRoundTrip(t *testing.T) {
	msgs := []Inbound{
		&Connected{Instance: "engine-1", Header: Header{Status: &Status{Channels: ChannelCounts{Available: 10, Active: 1}}}},
		&Opened{Header: Header{ID: "abc", Channel: &ChannelInfo{UUID: "u1", IP: "127.0.0.1", Port: 10000}}},
		&TelephoneEvent{Header: Header{ID: "abc"}, Event: json.RawMessage(`"#"`)},
		&Closed{Header: Header{ID: "abc"}},
	}

	for _, m := range msgs {
		body, err := Encode(m)
		require.NoError(t, err)

		back, err := Decode(body)
		require.NoError(t, err)
		assert.Equal(t, m, back)
	}
}
