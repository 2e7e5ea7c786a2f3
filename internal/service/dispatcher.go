package service

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/digkill/imaginebot/internal/inference"
)

// ImageGenerator is the remote text-to-image call.
type ImageGenerator interface {
	TextToImage(ctx context.Context, prompt, modelID string) (*inference.Image, error)
}

// Dispatch is a successful generation.
type Dispatch struct {
	Image   *inference.Image
	Elapsed time.Duration
}

// Dispatcher bounds every generation call and normalizes its failures.
type Dispatcher struct {
	client  ImageGenerator
	timeout time.Duration
}

func NewDispatcher(client ImageGenerator, timeout time.Duration) *Dispatcher {
	return &Dispatcher{client: client, timeout: timeout}
}

// Generate sends prompt to modelID and waits at most the configured timeout.
// Every failure is returned as *GenerationFailedError.
func (d *Dispatcher) Generate(ctx context.Context, prompt, modelID string) (*Dispatch, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	image, err := d.client.TextToImage(ctx, prompt, modelID)
	elapsed := time.Since(start)
	if err != nil {
		return nil, &GenerationFailedError{
			Detail:  err.Error(),
			Timeout: isTimeout(ctx, err),
			Err:     err,
		}
	}
	if image == nil || len(image.Bytes) == 0 {
		return nil, &GenerationFailedError{Detail: inference.ErrEmptyImage.Error(), Err: inference.ErrEmptyImage}
	}
	return &Dispatch{Image: image, Elapsed: elapsed}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
