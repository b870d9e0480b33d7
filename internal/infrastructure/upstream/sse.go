package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/xyz-jphil/ccapis/pkg/errors"
)

// ParseCompletionStream consumes the upstream completion dialect: a sequence
// of "data: <json>" lines separated by blank lines, with occasional ping
// comments. Text is taken from each frame's completion field; a frame with a
// stop_reason field ends the stream. Unknown and undecodable frames are
// skipped. When deltaCh is non-nil, every delta is forwarded as it is
// decoded; the caller owns the channel and closes it after this returns.
//
// Partial text read before an error is preserved in the returned result.
func ParseCompletionStream(ctx context.Context, r io.Reader, deltaCh chan<- StreamChunk, logger *zap.Logger) (*CompletionResult, error) {
	scanner := bufio.NewScanner(r)
	// Single frames can carry large completions.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var text strings.Builder
	result := &CompletionResult{}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			// Blank separators, event: lines, and ": ping" comments.
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var evt completionEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			logger.Debug("Skipping undecodable stream frame", zap.Error(err))
			continue
		}

		if evt.Error != nil {
			result.Text = text.String()
			return result, apperrors.NewUpstreamStreamError("completion", payload)
		}

		if evt.Completion != nil && *evt.Completion != "" {
			text.WriteString(*evt.Completion)
			if deltaCh != nil {
				select {
				case deltaCh <- StreamChunk{DeltaText: *evt.Completion}:
				case <-ctx.Done():
					result.Text = text.String()
					return result, ctx.Err()
				}
			}
		}

		if evt.StopReason != nil {
			result.StopReason = *evt.StopReason
			result.Text = text.String()
			return result, nil
		}
	}

	result.Text = text.String()
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			// The watchdog closed the body under us.
			return result, ctx.Err()
		}
		return result, apperrors.NewUpstreamBodyError("completion", err)
	}
	// Stream ended without a stop_reason; hand back what arrived.
	return result, nil
}
