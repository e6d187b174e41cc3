package protocol

import (
	"testing"

	"github.com/BYU-PCCL/footron-api/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	l := lock.NewCapacity(2)
	endTime := int64(12345)

	cases := []Message{
		{Type: KindConnect, App: "demo"},
		NewAccess("demo", "client-1", true, ""),
		NewAccess("demo", "client-1", false, "expired or invalid"),
		{Type: KindLifecycle},
		{Type: KindDisplaySettings, Lock: &l, EndTime: &endTime},
		{Type: KindInteraction, At: 999},
		{Type: KindApplicationApp, Data: []byte(`{"foo":"bar"}`)},
		{Type: KindApplicationClient, Client: "client-1", Data: []byte(`{"x":1}`)},
		NewHeartbeatClient(true, []string{"a", "b"}),
		NewHeartbeatApp(false),
		NewError("bad frame"),
	}

	for _, m := range cases {
		encoded, err := Encode(m)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)

		assert.Equal(t, m.Type, decoded.Type)
		assert.Equal(t, m.Client, decoded.Client)
		assert.Equal(t, m.App, decoded.App)
		assert.Equal(t, m.Accepted, decoded.Accepted)
		assert.Equal(t, m.Reason, decoded.Reason)
		assert.Equal(t, m.Up, decoded.Up)
		assert.Equal(t, m.At, decoded.At)
		assert.Equal(t, m.Clients, decoded.Clients)
		if m.Lock != nil {
			require.NotNil(t, decoded.Lock)
			assert.True(t, m.Lock.Equal(*decoded.Lock))
		}
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"type":"not-a-real-kind"}`))
	assert.Error(t, err)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestHasClient(t *testing.T) {
	assert.True(t, NewAccess("demo", "c1", true, "").HasClient())
	assert.False(t, Message{Type: KindLifecycle}.HasClient())
}
