package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	envelopes := []Envelope{
		NewQuery("list files", false),
		NewQuery("continue the report", true),
		NewPing(),
		NewCancel(),
		NewProcessing(),
		NewAgentThinking("I should inspect the workspace first."),
		NewToolCall("shell", map[string]interface{}{"command": "ls -la"}),
		NewToolCallResult("shell", "total 0"),
		NewToolResult("shell", "total 0"),
		NewAgentResponse("4"),
		NewStreamComplete(),
		NewError("something went wrong"),
		NewSystem("Query canceled"),
		NewPong(),
		NewConnectionEstablished("abc-123", "Connected to Agent WebSocket Server"),
	}

	for _, env := range envelopes {
		t.Run(string(env.Type), func(t *testing.T) {
			data, err := Encode(env)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, env, decoded)
		})
	}
}

func TestEncodeDecode_RoundTripWithRoutingMetadata(t *testing.T) {
	env := NewAgentResponse("done")
	env.Sequence = 7
	env.QueryID = "q-42"

	data, err := Encode(env)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
	assert.Equal(t, int64(7), decoded.Sequence)
	assert.Equal(t, "q-42", decoded.QueryID)
}

func TestEncode_RequiresType(t *testing.T) {
	_, err := Encode(Envelope{Content: map[string]interface{}{}})
	assert.Error(t, err)
}

func TestDecode_MalformedPayload(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestDecode_MissingType(t *testing.T) {
	_, err := Decode([]byte(`{"content":{"text":"hi"}}`))
	require.Error(t, err)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Error(), "missing type")
}

func TestDecode_UnknownTypeIsNotFatal(t *testing.T) {
	env, err := Decode([]byte(`{"type":"made_up_type","content":{}}`))
	require.NoError(t, err)
	assert.Equal(t, Type("made_up_type"), env.Type)
}

func TestType_QueryScoped(t *testing.T) {
	scoped := []Type{
		TypeProcessing, TypeAgentThinking, TypeToolCall, TypeToolResult,
		TypeAgentResponse, TypeStreamComplete, TypeError, TypeSystem,
	}
	for _, typ := range scoped {
		assert.True(t, typ.QueryScoped(), "expected %s to be query scoped", typ)
	}

	unscoped := []Type{
		TypePong, TypeConnectionEstablished, TypeWorkspaceInfo,
		TypeQuery, TypePing, TypeCancel,
	}
	for _, typ := range unscoped {
		assert.False(t, typ.QueryScoped(), "expected %s to be out of band", typ)
	}
}

func TestEnvelope_ContentAccessors(t *testing.T) {
	env := NewQuery("what is 2+2", true)
	assert.Equal(t, "what is 2+2", env.StringField("text"))
	assert.True(t, env.BoolField("resume"))
	assert.Equal(t, "", env.StringField("missing"))
	assert.False(t, Envelope{}.BoolField("resume"))
}
