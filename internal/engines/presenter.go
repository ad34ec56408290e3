package engines

import (
	"context"
	"errors"
	"net/http"

	"github.com/mtr002/lm-jobs/internal/interfaces"
)

// Presenter calls the slide-deck generator.
type Presenter struct {
	url    string
	apiKey string
	client *http.Client
}

func NewPresenter(url, apiKey string, client *http.Client) *Presenter {
	if client == nil {
		client = &http.Client{}
	}
	return &Presenter{url: url, apiKey: apiKey, client: client}
}

type generateRequest struct {
	Content  string `json:"content"`
	NumSlide int    `json:"n_slides"`
	Language string `json:"language"`
	Template string `json:"template"`
	ExportAs string `json:"export_as"`
	Tone     string `json:"tone"`
}

type generateResponse struct {
	PresentationID string `json:"presentation_id"`
	EditPath       string `json:"edit_path"`
	Path           string `json:"path"`
}

func (p *Presenter) Generate(ctx context.Context, payload *interfaces.PresentationPayload) (*interfaces.PresentationResult, error) {
	var headers map[string]string
	if p.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + p.apiKey}
	}

	var resp generateResponse
	err := postJSON(ctx, p.client, "presentation", p.url, headers, generateRequest{
		Content:  payload.Topic,
		NumSlide: payload.NumSlides,
		Language: payload.Language,
		Template: payload.Template,
		ExportAs: "pptx",
		Tone:     payload.Tone,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.PresentationID == "" {
		return nil, &interfaces.ExternalOperationError{Op: "presentation", Err: errors.New("response without presentation_id")}
	}

	return &interfaces.PresentationResult{
		PresentationID: resp.PresentationID,
		EditPath:       resp.EditPath,
		FilePath:       resp.Path,
	}, nil
}
