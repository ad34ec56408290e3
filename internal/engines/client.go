// Package engines calls the external processing services a job delegates to.
package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mtr002/lm-jobs/internal/interfaces"
	"github.com/mtr002/lm-jobs/internal/logger"
)

const maxErrorBody = 512

// postJSON sends body to url and decodes a 2xx reply into out. Every failure is an
// *interfaces.ExternalOperationError tagged with op.
func postJSON(ctx context.Context, client *http.Client, op, url string, headers map[string]string, body, out any) error {
	reqID := uuid.NewString()
	start := time.Now()
	log := logger.Logger.With().Str("req_id", reqID).Str("op", op).Logger()

	bs, err := json.Marshal(body)
	if err != nil {
		return &interfaces.ExternalOperationError{Op: op, Err: fmt.Errorf("encode json: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return &interfaces.ExternalOperationError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	log.Debug().Str("url", url).Int("content_length", len(bs)).Msg("Calling engine")

	resp, err := client.Do(req)
	if err != nil {
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Engine call failed")
		return &interfaces.ExternalOperationError{
			Op:      op,
			Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &interfaces.ExternalOperationError{
			Op:      op,
			Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:     fmt.Errorf("read response: %w", err),
		}
	}

	log.Debug().Int("status", resp.StatusCode).Int("bytes", len(raw)).Dur("elapsed", time.Since(start)).Msg("Engine replied")

	if resp.StatusCode/100 != 2 {
		return &interfaces.ExternalOperationError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(errorDetail(resp.StatusCode, raw)),
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &interfaces.ExternalOperationError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func errorDetail(status int, raw []byte) string {
	detail := strings.TrimSpace(string(raw))
	if detail == "" {
		return http.StatusText(status)
	}
	if len(detail) > maxErrorBody {
		detail = detail[:maxErrorBody] + "..."
	}
	return detail
}
