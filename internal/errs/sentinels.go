// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Session codec.
var (
	// ErrEmptyInput indicates a blank session blob.
	ErrEmptyInput = errors.New("session blob is empty")

	// ErrTransportDecode indicates the session blob is not valid base64.
	ErrTransportDecode = errors.New("session blob is not valid base64")

	// ErrSchemaDecode indicates the decoded bytes do not parse as a session record.
	ErrSchemaDecode = errors.New("session blob has an invalid structure")
)

// Backup codec.
var (
	// ErrInvalidPassword indicates a password outside the accepted length bounds.
	ErrInvalidPassword = errors.New("invalid password length")

	// ErrPayloadTooLarge indicates input over the size cap.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrUnsupportedVersion indicates an envelope version or KDF this build cannot read.
	ErrUnsupportedVersion = errors.New("unsupported encrypted data version")

	// ErrInvalidEnvelope covers malformed envelopes and failed authentication alike.
	ErrInvalidEnvelope = errors.New("decryption failed: wrong password or corrupted data")

	// ErrCorruptedLegacyData indicates legacy data that does not decrypt to UTF-8 text.
	ErrCorruptedLegacyData = errors.New("decryption failed: legacy data is corrupted")
)

// Repository and import.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsafeName indicates an identity that cannot be used as a file name.
	ErrUnsafeName = errors.New("unsafe account name")

	// ErrTooManyFiles indicates an import batch over the file limit.
	ErrTooManyFiles = errors.New("too many files")
)

// State store.
var (
	// ErrStoreAccess indicates the primary state store could not be opened, read or written.
	ErrStoreAccess = errors.New("state store access failed")

	// ErrNoSession indicates the state store holds no signed-in session.
	ErrNoSession = errors.New("no signed-in session found")
)

// Orchestration and host process.
var (
	// ErrExtensionRequired indicates the host is running without a live extension connection.
	ErrExtensionRequired = errors.New("the editor is running; install or connect the companion extension to switch accounts")

	// ErrProcessNotFound indicates no host process was running.
	ErrProcessNotFound = errors.New("process not found")

	// ErrProcessQuery indicates the process table could not be read.
	ErrProcessQuery = errors.New("editor process state could not be read")

	// ErrLaunchFailed indicates the editor could not be started.
	ErrLaunchFailed = errors.New("the editor could not be started")
)

// Google APIs.
var (
	// ErrUpstream indicates a Google API call failed or answered with an error status.
	ErrUpstream = errors.New("google api request failed")

	// ErrOAuthNotConfigured indicates token refresh without OAuth client credentials.
	ErrOAuthNotConfigured = errors.New("oauth client credentials are not configured")

	// ErrNoRefreshToken indicates a stored session without a refresh token.
	ErrNoRefreshToken = errors.New("account has no refresh token")

	// ErrNoProject indicates the account has no cloud project for quota calls.
	ErrNoProject = errors.New("no cloud project found for this account")
)

// ErrUnauthorized indicates failed authentication of a control caller.
var ErrUnauthorized = errors.New("unauthorized")
