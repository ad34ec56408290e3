// Package source resolves the audio references carried by transcription payloads.
// A reference is either a path on the shared filesystem or s3://bucket/key in MinIO.
package source

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mtr002/lm-jobs/internal/interfaces"
)

const objectScheme = "s3://"

// AllowedExtensions are the audio formats accepted for upload.
var AllowedExtensions = []string{".mp3", ".wav", ".m4a", ".flac", ".ogg"}

// CheckExtension rejects file names the transcription engine cannot read.
func CheckExtension(fileName string) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("unsupported file type %q, allowed: %s", ext, strings.Join(AllowedExtensions, ", "))
}

// ParseObjectRef splits s3://bucket/key. ok is false for local paths.
func ParseObjectRef(ref string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(ref, objectScheme) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(ref, objectScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// IsObjectRef reports whether ref points into object storage.
func IsObjectRef(ref string) bool {
	return strings.HasPrefix(ref, objectScheme)
}

// Backend stores and finds audio files for one kind of reference.
type Backend interface {
	Exists(ctx context.Context, ref string) (bool, error)
	// Locate returns what the transcription engine should read: a path or a URL.
	Locate(ctx context.Context, ref string) (string, error)
	Save(ctx context.Context, name string, r io.Reader, size int64) (string, error)
	Remove(ctx context.Context, ref string) error
}

// Resolver routes references to the local or object backend. Uploads go to the
// object backend when one is configured.
type Resolver struct {
	local   Backend
	objects Backend
}

// NewResolver builds a resolver. objects may be nil.
func NewResolver(local, objects Backend) *Resolver {
	return &Resolver{local: local, objects: objects}
}

func (r *Resolver) backend(ref string) (Backend, error) {
	if IsObjectRef(ref) {
		if r.objects == nil {
			return nil, fmt.Errorf("object storage is not configured for %s", ref)
		}
		return r.objects, nil
	}
	return r.local, nil
}

func (r *Resolver) Exists(ctx context.Context, ref string) (bool, error) {
	b, err := r.backend(ref)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, ref)
}

func (r *Resolver) Locate(ctx context.Context, ref string) (string, error) {
	b, err := r.backend(ref)
	if err != nil {
		return "", err
	}
	return b.Locate(ctx, ref)
}

// Save stores an uploaded file under a unique name and returns its reference.
// Unsupported file types fail with a ValidationError, backend failures with a
// StorageError.
func (r *Resolver) Save(ctx context.Context, fileName string, body io.Reader, size int64) (string, error) {
	if err := CheckExtension(fileName); err != nil {
		return "", &interfaces.ValidationError{Field: "file", Reason: err.Error()}
	}
	b := r.local
	if r.objects != nil {
		b = r.objects
	}
	ref, err := b.Save(ctx, uuid.NewString()+"_"+filepath.Base(fileName), body, size)
	if err != nil {
		return "", &interfaces.StorageError{Op: "save upload", Err: err}
	}
	return ref, nil
}

// Remove deletes a file previously returned by Save.
func (r *Resolver) Remove(ctx context.Context, ref string) error {
	b, err := r.backend(ref)
	if err != nil {
		return err
	}
	return b.Remove(ctx, ref)
}
