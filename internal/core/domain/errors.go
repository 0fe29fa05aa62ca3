package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Adapters wrap their failures with one of these so callers can
// branch with errors.Is without knowing the transport.
var (
	ErrUpload          = errors.New("upload failed")
	ErrChannel         = errors.New("push channel failure")
	ErrMessageParse    = errors.New("malformed push message")
	ErrBatchFailure    = errors.New("batch failed")
	ErrQuota           = errors.New("ai usage limit reached")
	ErrInvalidInput    = errors.New("invalid input")
	ErrSessionBusy     = errors.New("a batch is already in progress")
	ErrChatUnavailable = errors.New("chat unavailable")
	ErrNotFound        = errors.New("not found")
	ErrTemporary       = errors.New("temporary failure")
)

// kindNames is ordered: quota wins over the transport kind it travels with.
var kindNames = []struct {
	kind error
	name string
}{
	{ErrQuota, "quota"},
	{ErrInvalidInput, "invalid_input"},
	{ErrNotFound, "not_found"},
	{ErrTemporary, "temporary"},
	{ErrSessionBusy, "busy"},
	{ErrChatUnavailable, "chat_unavailable"},
	{ErrMessageParse, "parse"},
	{ErrChannel, "channel"},
	{ErrUpload, "upload"},
	{ErrBatchFailure, "batch"},
}

// WrapError annotates err with the operation and a kind, keeping both matchable.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// KindName returns a short label for the first known kind err carries,
// "" for nil and "unknown" otherwise.
func KindName(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "unknown"
}
