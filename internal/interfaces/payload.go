package interfaces

import (
	"encoding/json"
	"fmt"
)

// Tags are caller-supplied identifiers stored with a job but never validated.
type Tags struct {
	UserID  string `json:"user_id"`
	Subject string `json:"subject"`
}

// Payload is the write-once input of a job. Implementations are
// *TranscriptionPayload and *PresentationPayload.
type Payload interface {
	Kind() Kind
	Tags() Tags
	isPayload()
}

// TranscriptionPayload asks the speech-to-text engine to transcribe one audio source.
type TranscriptionPayload struct {
	Source    string `json:"source"`
	FileName  string `json:"file_name"`
	Language  string `json:"language,omitempty"`
	AutoIndex bool   `json:"auto_index"`
	UserID    string `json:"user_id"`
	Subject   string `json:"subject"`
}

func (*TranscriptionPayload) Kind() Kind { return KindTranscription }
func (p *TranscriptionPayload) Tags() Tags {
	return Tags{UserID: p.UserID, Subject: p.Subject}
}
func (*TranscriptionPayload) isPayload() {}

// PresentationPayload asks the slide generator for a deck about Topic.
type PresentationPayload struct {
	Topic     string `json:"topic"`
	NumSlides int    `json:"n_slides"`
	Language  string `json:"language"`
	Template  string `json:"template"`
	Tone      string `json:"tone"`
	UserID    string `json:"user_id"`
	Subject   string `json:"subject"`
}

func (*PresentationPayload) Kind() Kind { return KindPresentation }
func (p *PresentationPayload) Tags() Tags {
	return Tags{UserID: p.UserID, Subject: p.Subject}
}
func (*PresentationPayload) isPayload() {}

// Result holds the job-type-specific output of a completed job. Implementations are
// *TranscriptionResult and *PresentationResult.
type Result interface {
	Kind() Kind
	isResult()
}

// TranscriptionResult is what the speech-to-text engine returns.
type TranscriptionResult struct {
	Text            string  `json:"text"`
	Language        string  `json:"language"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (*TranscriptionResult) Kind() Kind { return KindTranscription }
func (*TranscriptionResult) isResult()  {}

// PresentationResult locates the generated deck.
type PresentationResult struct {
	PresentationID string `json:"presentation_id"`
	EditPath       string `json:"edit_path"`
	FilePath       string `json:"file_path,omitempty"`
}

func (*PresentationResult) Kind() Kind { return KindPresentation }
func (*PresentationResult) isResult()  {}

// DecodePayload parses the JSON form of a payload of the given kind.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	switch kind {
	case KindTranscription:
		var p TranscriptionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode transcription payload: %w", err)
		}
		return &p, nil
	case KindPresentation:
		var p PresentationPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode presentation payload: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown job type: %q", kind)
	}
}

// DecodeResult parses the JSON form of a result of the given kind.
func DecodeResult(kind Kind, raw json.RawMessage) (Result, error) {
	switch kind {
	case KindTranscription:
		var r TranscriptionResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("failed to decode transcription result: %w", err)
		}
		return &r, nil
	case KindPresentation:
		var r PresentationResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("failed to decode presentation result: %w", err)
		}
		return &r, nil
	default:
		return nil, fmt.Errorf("unknown job type: %q", kind)
	}
}
