package voice

// Wire messages of the conversational agent websocket. Only the fields the
// session uses are decoded.

const (
	msgInitClientData = "conversation_initiation_client_data"
	msgInitMetadata   = "conversation_initiation_metadata"
	msgPing           = "ping"
	msgPong           = "pong"
	msgAudio          = "audio"
	msgUserTranscript = "user_transcript"
	msgAgentResponse  = "agent_response"
	msgInterruption   = "interruption"
)

type initClientData struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

type userAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type pong struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
}

// serverMessage is the union of the server events; Type selects the
// populated field.
type serverMessage struct {
	Type string `json:"type"`

	InitMetadata *struct {
		ConversationID         string `json:"conversation_id"`
		AgentOutputAudioFormat string `json:"agent_output_audio_format"`
		UserInputAudioFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	PingEvent *struct {
		EventID int64 `json:"event_id"`
		PingMs  int   `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int64  `json:"event_id"`
	} `json:"audio_event,omitempty"`

	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`
}

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}
