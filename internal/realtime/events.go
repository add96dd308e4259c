// Package realtime implements the duplex protocol client for the Azure
// OpenAI realtime (speech-to-speech) endpoint: JSON event framing over a
// websocket, inbound dispatch, and automatic reconnection.
package realtime

// Wire event types, by direction.
const (
	typeInputAudioAppend       = "input_audio_buffer.append"
	typeInputAudioCommit       = "input_audio_buffer.commit"
	typeInputAudioClear        = "input_audio_buffer.clear"
	typeConversationItemCreate = "conversation.item.create"
	typeResponseCreate         = "response.create"
	typeSessionUpdate          = "session.update"

	typeSessionCreated         = "session.created"
	typeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	typeResponseAudioDelta     = "response.audio.delta"
	typeError                  = "error"
)

// envelope is used for initial parsing to determine the event type before
// unmarshaling into the specific event struct.
type envelope struct {
	Type string `json:"type"`
}

// --- Outbound ---

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64 PCM16LE
}

type controlEvent struct {
	Type string `json:"type"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type itemCreateEvent struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionUpdate `json:"session"`
}

// TurnDetection holds server-side voice activity detection settings.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// SessionUpdate is a partial session configuration. Unset pointer fields are
// omitted from the payload entirely — sending them as nulls or defaults would
// overwrite server-held state.
type SessionUpdate struct {
	Modalities              []string       `json:"modalities,omitempty"`
	Instructions            *string        `json:"instructions,omitempty"`
	Voice                   *string        `json:"voice,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	Temperature             *float64       `json:"temperature,omitempty"`
	MaxResponseOutputTokens *int           `json:"max_response_output_tokens,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
}

// --- Inbound ---

// SessionMeta is the server-echoed session descriptor from session.created.
type SessionMeta struct {
	ID         string   `json:"id"`
	Model      string   `json:"model"`
	Voice      string   `json:"voice,omitempty"`
	Modalities []string `json:"modalities,omitempty"`
	ExpiresAt  int64    `json:"expires_at,omitempty"`
}

type sessionCreatedEvent struct {
	Type    string      `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	Session SessionMeta `json:"session"`
}

type transcriptionCompletedEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

type audioDeltaEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"` // base64 PCM16LE
}

// ErrorDetail carries a remote-side protocol error. These are surfaced via
// the handler, not thrown — the session stays alive unless the remote closes
// the connection.
type ErrorDetail struct {
	Type    string  `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Param   *string `json:"param"`
	EventID string  `json:"event_id"`
}

type errorEvent struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}
