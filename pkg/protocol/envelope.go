package protocol

// Type identifies the kind of message carried by an Envelope.
type Type string

// Client to server message types.
const (
	TypeQuery         Type = "query"
	TypeWorkspaceInfo Type = "workspace_info"
	TypePing          Type = "ping"
	TypeCancel        Type = "cancel"
)

// Server to client message types.
const (
	TypeConnectionEstablished Type = "connection_established"
	TypeProcessing            Type = "processing"
	TypeAgentThinking         Type = "agent_thinking"
	TypeToolCall              Type = "tool_call"
	TypeToolResult            Type = "tool_result"
	TypeAgentResponse         Type = "agent_response"
	TypeStreamComplete        Type = "stream_complete"
	TypeError                 Type = "error"
	TypeSystem                Type = "system"
	TypePong                  Type = "pong"
)

// Envelope is one discrete wire message. The documented payload shape is
// {type, content}; sequence and query_id are routing metadata attached by the
// session to query-scoped server messages so clients can detect reordering
// and correlate envelopes after a reconnect.
type Envelope struct {
	Type     Type                   `json:"type"`
	Content  map[string]interface{} `json:"content"`
	Sequence int64                  `json:"sequence,omitempty"`
	QueryID  string                 `json:"query_id,omitempty"`
}

// QueryScoped reports whether envelopes of this type carry sequence and
// query_id metadata. Pings and the connection handshake are out of band of
// query sequencing, as are all client-originated types.
func (t Type) QueryScoped() bool {
	switch t {
	case TypeProcessing, TypeAgentThinking, TypeToolCall, TypeToolResult,
		TypeAgentResponse, TypeStreamComplete, TypeError, TypeSystem:
		return true
	}
	return false
}

// StringField returns a string value from the content payload, or "" when the
// key is absent or not a string.
func (e Envelope) StringField(key string) string {
	if e.Content == nil {
		return ""
	}
	if v, ok := e.Content[key].(string); ok {
		return v
	}
	return ""
}

// BoolField returns a bool value from the content payload.
func (e Envelope) BoolField(key string) bool {
	if e.Content == nil {
		return false
	}
	if v, ok := e.Content[key].(bool); ok {
		return v
	}
	return false
}

// NewQuery builds a client query envelope.
func NewQuery(text string, resume bool) Envelope {
	return Envelope{
		Type:    TypeQuery,
		Content: map[string]interface{}{"text": text, "resume": resume},
	}
}

// NewWorkspaceInfoRequest builds a client workspace_info request.
func NewWorkspaceInfoRequest() Envelope {
	return Envelope{Type: TypeWorkspaceInfo, Content: map[string]interface{}{}}
}

// NewPing builds a client ping.
func NewPing() Envelope {
	return Envelope{Type: TypePing, Content: map[string]interface{}{}}
}

// NewCancel builds a client cancel request.
func NewCancel() Envelope {
	return Envelope{Type: TypeCancel, Content: map[string]interface{}{}}
}

// NewConnectionEstablished builds the handshake envelope sent when a
// transport attaches to a session.
func NewConnectionEstablished(sessionID, message string) Envelope {
	return Envelope{
		Type:    TypeConnectionEstablished,
		Content: map[string]interface{}{"session_id": sessionID, "message": message},
	}
}

// NewWorkspaceInfo builds a workspace snapshot response.
func NewWorkspaceInfo(content map[string]interface{}) Envelope {
	return Envelope{Type: TypeWorkspaceInfo, Content: content}
}

// NewProcessing builds the acknowledgment emitted when a query is accepted.
func NewProcessing() Envelope {
	return Envelope{
		Type:    TypeProcessing,
		Content: map[string]interface{}{"message": "Processing your request..."},
	}
}

// NewAgentThinking builds an intermediate reasoning envelope.
func NewAgentThinking(text string) Envelope {
	return Envelope{Type: TypeAgentThinking, Content: map[string]interface{}{"text": text}}
}

// NewToolCall builds a tool call announcement (is_result=false).
func NewToolCall(toolName string, toolInput map[string]interface{}) Envelope {
	return Envelope{
		Type: TypeToolCall,
		Content: map[string]interface{}{
			"tool_name":  toolName,
			"tool_input": toolInput,
			"is_result":  false,
		},
	}
}

// NewToolCallResult builds the completion mirror of a tool call
// (is_result=true) carrying the outcome.
func NewToolCallResult(toolName string, result interface{}) Envelope {
	return Envelope{
		Type: TypeToolCall,
		Content: map[string]interface{}{
			"tool_name": toolName,
			"result":    result,
			"is_result": true,
		},
	}
}

// NewToolResult builds a tool result envelope.
func NewToolResult(toolName string, result interface{}) Envelope {
	return Envelope{
		Type:    TypeToolResult,
		Content: map[string]interface{}{"tool_name": toolName, "result": result},
	}
}

// NewAgentResponse builds the final answer envelope for a query.
func NewAgentResponse(text string) Envelope {
	return Envelope{Type: TypeAgentResponse, Content: map[string]interface{}{"text": text}}
}

// NewStreamComplete builds the terminal envelope of a successful query.
func NewStreamComplete() Envelope {
	return Envelope{Type: TypeStreamComplete, Content: map[string]interface{}{}}
}

// NewError builds a protocol error envelope.
func NewError(message string) Envelope {
	return Envelope{Type: TypeError, Content: map[string]interface{}{"message": message}}
}

// NewSystem builds a system notice envelope.
func NewSystem(message string) Envelope {
	return Envelope{Type: TypeSystem, Content: map[string]interface{}{"message": message}}
}

// NewPong builds a pong response.
func NewPong() Envelope {
	return Envelope{Type: TypePong, Content: map[string]interface{}{}}
}
