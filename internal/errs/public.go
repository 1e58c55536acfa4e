package errs

import (
	"context"
	"errors"
)

// InternalMessage is shown to callers for errors that wrap no sentinel.
const InternalMessage = "internal error"

// public lists the sentinels callers may see, most specific first.
var public = []error{
	ErrEmptyInput,
	ErrTransportDecode,
	ErrSchemaDecode,
	ErrInvalidPassword,
	ErrPayloadTooLarge,
	ErrUnsupportedVersion,
	ErrInvalidEnvelope,
	ErrCorruptedLegacyData,
	ErrNotFound,
	ErrUnsafeName,
	ErrTooManyFiles,
	ErrNoSession,
	ErrExtensionRequired,
	ErrProcessNotFound,
	ErrProcessQuery,
	ErrLaunchFailed,
	ErrOAuthNotConfigured,
	ErrNoRefreshToken,
	ErrNoProject,
	ErrUpstream,
	ErrStoreAccess,
	ErrUnauthorized,
	context.DeadlineExceeded,
	context.Canceled,
}

// Public returns the sentinel that err wraps, or nil. Its message carries no
// file paths or driver text and is safe to return to a caller.
func Public(err error) error {
	if err == nil {
		return nil
	}
	for _, s := range public {
		if errors.Is(err, s) {
			return s
		}
	}
	return nil
}

// Message is the caller-facing text for err.
func Message(err error) string {
	if s := Public(err); s != nil {
		return s.Error()
	}
	return InternalMessage
}
