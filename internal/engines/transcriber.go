package engines

import (
	"context"
	"errors"
	"net/http"

	"github.com/mtr002/lm-jobs/internal/interfaces"
)

// Locator turns a stored source reference into something the engine can read.
type Locator interface {
	Locate(ctx context.Context, ref string) (string, error)
}

// Transcriber calls the speech-to-text service.
type Transcriber struct {
	url     string
	client  *http.Client
	sources Locator
}

// NewTranscriber builds a client for the service at url. The job context bounds each
// call, so client carries no timeout of its own.
func NewTranscriber(url string, client *http.Client, sources Locator) *Transcriber {
	if client == nil {
		client = &http.Client{}
	}
	return &Transcriber{url: url, client: client, sources: sources}
}

type transcribeRequest struct {
	FilePath string `json:"file_path"`
	Language string `json:"language,omitempty"`
}

type transcribeResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

func (t *Transcriber) Transcribe(ctx context.Context, p *interfaces.TranscriptionPayload) (*interfaces.TranscriptionResult, error) {
	location := p.Source
	if t.sources != nil {
		loc, err := t.sources.Locate(ctx, p.Source)
		if err != nil {
			return nil, &interfaces.ExternalOperationError{Op: "transcription", Err: err}
		}
		location = loc
	}

	var resp transcribeResponse
	err := postJSON(ctx, t.client, "transcription", t.url, nil,
		transcribeRequest{FilePath: location, Language: p.Language}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Text == "" {
		return nil, &interfaces.ExternalOperationError{Op: "transcription", Err: errors.New("empty transcript")}
	}

	return &interfaces.TranscriptionResult{
		Text:            resp.Text,
		Language:        resp.Language,
		DurationSeconds: resp.Duration,
	}, nil
}
