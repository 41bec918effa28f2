package backend

import (
	"context"
	"errors"
	"strings"
)

// Sentinels callers branch on. Everything else is treated as a transient
// transport failure.
var (
	ErrQuota   = errors.New("backend quota exhausted")
	ErrTimeout = errors.New("backend call timed out")
)

// Classify maps a raw provider error onto the package sentinels where
// possible, preserving the original via wrapping.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "429") || strings.Contains(msg, "quota") {
		return errors.Join(ErrQuota, err)
	}
	return err
}
