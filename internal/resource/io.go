package resource

import (
	"context"
	"io"
)

// RateLimitedWriter wraps an io.Writer with the controller's IO limit.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	rc  *Controller
}

// NewRateLimitedWriter creates a new RateLimitedWriter.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, rc *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{ctx: ctx, w: w, rc: rc}
}

func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	burst := w.rc.ioBurst()
	if burst <= 0 {
		return w.w.Write(p)
	}

	// WaitN rejects requests larger than the burst.
	written := 0
	for len(p) > 0 {
		chunk := min(len(p), burst)
		if err := w.rc.AcquireIO(w.ctx, chunk); err != nil {
			return written, err
		}
		n, err := w.w.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}
