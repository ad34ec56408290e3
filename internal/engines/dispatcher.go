package engines

import (
	"context"
	"fmt"

	"github.com/mtr002/lm-jobs/internal/interfaces"
)

// Dispatcher routes a job to the engine for its payload type.
type Dispatcher struct {
	transcriber *Transcriber
	presenter   *Presenter
}

func NewDispatcher(transcriber *Transcriber, presenter *Presenter) *Dispatcher {
	return &Dispatcher{transcriber: transcriber, presenter: presenter}
}

// Process runs the external operation for job under ctx.
func (d *Dispatcher) Process(ctx context.Context, job *interfaces.Job) (interfaces.Result, error) {
	switch p := job.Payload.(type) {
	case *interfaces.TranscriptionPayload:
		result, err := d.transcriber.Transcribe(ctx, p)
		if err != nil {
			return nil, err
		}
		return result, nil
	case *interfaces.PresentationPayload:
		result, err := d.presenter.Generate(ctx, p)
		if err != nil {
			return nil, err
		}
		return result, nil
	default:
		return nil, fmt.Errorf("no engine for payload %T", job.Payload)
	}
}
