package service

import (
	"errors"
	"fmt"
)

// ErrNotSessionOwner is returned when someone other than the original
// requester triggers a generation from a result's buttons.
var ErrNotSessionOwner = errors.New("only the original requester can use these buttons")

// ValidationError carries a user-facing reason. Nothing was persisted.
type ValidationError struct {
	Reason      string
	Suggestions []string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// QuotaExceededError is returned before dispatch when the daily ceiling is reached.
type QuotaExceededError struct {
	Limit   int
	Used    int
	Premium bool
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily limit reached: %d/%d", e.Used, e.Limit)
}

func (e *QuotaExceededError) UserMessage() string {
	if e.Premium {
		return fmt.Sprintf("You've used all %d of today's premium generations. Come back tomorrow!", e.Limit)
	}
	return fmt.Sprintf("You've used your daily limit of %d images.\nConsider upgrading to premium for more generations!", e.Limit)
}

// GenerationFailedError wraps any inference failure. No counters were touched.
type GenerationFailedError struct {
	Detail  string
	Timeout bool
	Err     error
}

func (e *GenerationFailedError) Error() string {
	if e.Timeout {
		return "generation timed out: " + e.Detail
	}
	return "generation failed: " + e.Detail
}

func (e *GenerationFailedError) Unwrap() error {
	return e.Err
}

func (e *GenerationFailedError) UserMessage() string {
	if e.Timeout {
		return "Generation took too long and was abandoned. Please try again."
	}
	return "Generation failed. Please try again later."
}

// DeliveryError reports that a result could not reach the user.
type DeliveryError struct {
	Hint string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// StoreError wraps persistence failures.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
