package live

import (
	"fmt"
	"strings"
)

// Modalities accepted in responseModalities
const (
	ModalityAudio = "AUDIO"
	ModalityText  = "TEXT"
)

// SessionConfig describes the conversation a live session should run
type SessionConfig struct {
	Model               string   `json:"model"`
	SystemInstruction   string   `json:"system_instruction"`
	Voice               string   `json:"voice"`
	ResponseModalities  []string `json:"response_modalities"`
	InputTranscription  bool     `json:"input_transcription"`
	OutputTranscription bool     `json:"output_transcription"`
}

// Blob is base64 media carried inline in a message
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Part is one piece of a content turn
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Content is a list of parts with an optional role
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Client to server frames. Exactly one field is set per frame.
type clientMessage struct {
	Setup         *setupMessage         `json:"setup,omitempty"`
	RealtimeInput *realtimeInputMessage `json:"realtimeInput,omitempty"`
}

type setupMessage struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *Content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type realtimeInputMessage struct {
	Audio *Blob `json:"audio,omitempty"`
}

func newSetupMessage(cfg SessionConfig) *setupMessage {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{ModalityAudio}
	}

	setup := &setupMessage{
		Model:            model,
		GenerationConfig: generationConfig{ResponseModalities: modalities},
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.InputTranscription {
		setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		setup.OutputAudioTranscription = &struct{}{}
	}
	return setup
}

// ServerMessage is one frame from the live service. Any combination of
// fields may be present.
type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// ServerContent carries model output and conversation signals
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
}

// AudioChunks returns the base64 payload of every inline audio part, in order
func (c *ServerContent) AudioChunks() []string {
	if c == nil || c.ModelTurn == nil {
		return nil
	}
	var chunks []string
	for _, p := range c.ModelTurn.Parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		if mt := p.InlineData.MIMEType; mt != "" && !strings.HasPrefix(mt, "audio/") {
			continue
		}
		chunks = append(chunks, p.InlineData.Data)
	}
	return chunks
}

// Transcription is a streamed fragment of recognized speech
type Transcription struct {
	Text string `json:"text"`
}

// GoAway warns that the server will disconnect soon
type GoAway struct {
	TimeLeft string `json:"timeLeft"`
}

// UsageMetadata reports token accounting for the session so far
type UsageMetadata struct {
	PromptTokenCount   int `json:"promptTokenCount"`
	ResponseTokenCount int `json:"responseTokenCount"`
	TotalTokenCount    int `json:"totalTokenCount"`
}

// RemoteError is a failure reported by the live service, usually as an
// abnormal websocket close
type RemoteError struct {
	Code   int
	Reason string
}

func (e *RemoteError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("live service closed the session (code %d)", e.Code)
	}
	return fmt.Sprintf("live service closed the session (code %d): %s", e.Code, e.Reason)
}

// DialError is a failed websocket handshake
type DialError struct {
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("live handshake failed with HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("live handshake failed: %v", e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}
