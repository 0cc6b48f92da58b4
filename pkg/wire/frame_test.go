package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{
		Source:    "abc123",
		MessageID: 42,
		Broadcast: true,
		Target:    "Speech",
		Payload:   "jan|hello, world",
	}

	line := f.Encode()
	assert.Equal(t, "abc123|42|Speech|jan|hello, world", line)

	got, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestEncodeDecodeDirectFrame(t *testing.T) {
	f := Frame{
		Source:    "abc123",
		MessageID: 1,
		Broadcast: false,
		Target:    "Topology",
		Payload:   "i-am|",
	}

	line := f.Encode()
	assert.Equal(t, "!abc123|1|Topology|i-am|", line)

	got, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestDecodeEmptyTarget(t *testing.T) {
	got, err := Decode("abc123|7||raw text with no observer")
	require.NoError(t, err)
	assert.Equal(t, "", got.Target)
	assert.Equal(t, "raw text with no observer", got.Payload)
}

func TestDecodePayloadMayContainPipes(t *testing.T) {
	got, err := Decode("abc123|7|ScatterGather|dest|99|a|b|c")
	require.NoError(t, err)
	assert.Equal(t, "ScatterGather", got.Target)
	assert.Equal(t, "dest|99|a|b|c", got.Payload)
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		"",
		"onlyonefield",
		"abc|notanumber|Target|payload",
		"|1|Target|payload",
	}
	for _, line := range cases {
		_, err := Decode(line)
		assert.ErrorIs(t, err, ErrMalformed, "line %q should be malformed", line)
	}
}

func TestSplitMethod(t *testing.T) {
	method, rest := SplitMethod("i-am|")
	assert.Equal(t, "i-am", method)
	assert.Equal(t, "", rest)

	method, rest = SplitMethod("SAY|jan|hello")
	assert.Equal(t, "SAY", method)
	assert.Equal(t, "jan|hello", rest)

	method, rest = SplitMethod("WHO")
	assert.Equal(t, "WHO", method)
	assert.Equal(t, "", rest)
}
