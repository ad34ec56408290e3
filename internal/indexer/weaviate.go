// Package indexer stores completed transcripts in Weaviate, one class per subject.
package indexer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/mtr002/lm-jobs/internal/interfaces"
)

const classPrefix = "Transcripts_"

// ClassName maps a subject tag onto a valid Weaviate class name.
func ClassName(subject string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(subject) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "default"
	}
	runes := []rune(name)
	runes[0] = unicode.ToUpper(runes[0])
	return classPrefix + string(runes)
}

// WeaviateIndexer writes transcripts as objects keyed by job id.
type WeaviateIndexer struct {
	client     *weaviate.Client
	vectorizer string

	mu    sync.Mutex
	known map[string]bool
}

// NewWeaviateIndexer connects to host (host:port) over scheme. vectorizer may be
// "none" when vectors are supplied elsewhere.
func NewWeaviateIndexer(scheme, host, vectorizer string) (*WeaviateIndexer, error) {
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   host,
		Scheme: scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	return &WeaviateIndexer{client: client, vectorizer: vectorizer, known: make(map[string]bool)}, nil
}

// IndexTranscript stores the transcript and returns the class it went to.
func (w *WeaviateIndexer) IndexTranscript(ctx context.Context, job *interfaces.Job, result *interfaces.TranscriptionResult) (string, error) {
	payload, ok := job.Payload.(*interfaces.TranscriptionPayload)
	if !ok {
		return "", fmt.Errorf("job %s is not a transcription", job.ID)
	}

	className := ClassName(payload.Subject)
	if err := w.ensureClass(ctx, className); err != nil {
		return className, err
	}

	_, err := w.client.Data().Creator().
		WithClassName(className).
		WithID(job.ID).
		WithProperties(map[string]interface{}{
			"job_id":    job.ID,
			"file_name": payload.FileName,
			"subject":   payload.Subject,
			"user_id":   payload.UserID,
			"language":  result.Language,
			"text":      result.Text,
		}).
		Do(ctx)
	if err != nil {
		return className, fmt.Errorf("failed to add transcript object: %w", err)
	}
	return className, nil
}

func (w *WeaviateIndexer) ensureClass(ctx context.Context, className string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.known[className] {
		return nil
	}

	schema, err := w.client.Schema().Getter().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to get schema: %w", err)
	}
	for _, class := range schema.Classes {
		if class.Class == className {
			w.known[className] = true
			return nil
		}
	}

	class := &models.Class{
		Class:       className,
		Description: "Lecture transcripts",
		Vectorizer:  w.vectorizer,
		Properties: []*models.Property{
			{Name: "job_id", DataType: []string{"text"}},
			{Name: "file_name", DataType: []string{"text"}},
			{Name: "subject", DataType: []string{"text"}},
			{Name: "user_id", DataType: []string{"text"}},
			{Name: "language", DataType: []string{"text"}},
			{Name: "text", DataType: []string{"text"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("failed to create Weaviate class: %w", err)
	}
	w.known[className] = true
	return nil
}
