package simproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		src  NodeID
		dst  NodeID
		kind Kind
		body []byte
	}{
		{"registration", 101, HubID, Registration, nil},
		{"response", HubID, 101, RegistrationResponse, []byte{RegAccepted}},
		{"broadcast data", 50, BroadcastID, Data, []byte{byte(Sib1), 1, 2, 3}},
		{"max ids", 0xFFFFFFFE, 0x01020304, Deregistration, []byte{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wire := Encode(tc.src, tc.dst, tc.kind, tc.body)
			assert.Len(t, wire, HeaderSize+len(tc.body))

			env, err := Decode(wire)
			require.NoError(t, err)
			assert.Equal(t, tc.src, env.Src)
			assert.Equal(t, tc.dst, env.Dst)
			assert.Equal(t, tc.kind, env.Kind)
			assert.Equal(t, len(tc.body), len(env.Body))
			if len(tc.body) > 0 {
				assert.Equal(t, tc.body, env.Body)
			}
		})
	}
}

func TestHeaderIsBigEndian(t *testing.T) {
	wire := Encode(0x01020304, 0x0A0B0C0D, Data, []byte{0xEE})
	assert.Equal(t, []byte{1, 2, 3, 4, 0x0A, 0x0B, 0x0C, 0x0D, 3, 0xEE}, wire)
}

func TestDecodeUndersized(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		_, err := Decode(make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidSize, "size %d", n)
	}
	_, err := Decode(make([]byte, HeaderSize))
	assert.NoError(t, err)
}

func TestAddressing(t *testing.T) {
	env, err := Decode(Encode(7, BroadcastID, Data, nil))
	require.NoError(t, err)
	assert.True(t, env.IsBroadcast())
	assert.True(t, env.IsForMe(42))
	assert.False(t, env.IsForHub())
	assert.False(t, env.IsFromHub())

	env, err = Decode(Encode(HubID, 42, RegistrationResponse, []byte{RegAccepted}))
	require.NoError(t, err)
	assert.True(t, env.IsFromHub())
	assert.True(t, env.IsForMe(42))
	assert.False(t, env.IsForMe(43))
	status, ok := env.Status()
	assert.True(t, ok)
	assert.Equal(t, RegAccepted, status)

	env, err = Decode(Encode(42, HubID, Registration, nil))
	require.NoError(t, err)
	assert.True(t, env.IsForHub())
	_, ok = env.Status()
	assert.False(t, ok)
}

func TestDataBody(t *testing.T) {
	payload := MustEncodeMsg(&RachPreambleMsg{RaRnti: 101})
	env, err := Decode(EncodeData(101, 50, RachPreamble, payload))
	require.NoError(t, err)
	assert.Equal(t, Data, env.Kind)

	msgType, app, err := env.Data()
	require.NoError(t, err)
	assert.Equal(t, RachPreamble, msgType)
	assert.Equal(t, []byte{0, 101}, app)

	env, err = Decode(Encode(101, 50, Data, nil))
	require.NoError(t, err)
	_, _, err = env.Data()
	assert.ErrorIs(t, err, ErrEmptyData)
}
