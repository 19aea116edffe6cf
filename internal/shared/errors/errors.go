package errors

import "errors"

// Domain errors
var (
	// Checkup errors
	ErrCheckupNotFound  = errors.New("checkup not found")
	ErrCheckupForbidden = errors.New("checkup belongs to a different owner")
	ErrInvalidTargetURL = errors.New("target URL must be a valid http or https URL")
	ErrEmptyOwner       = errors.New("owner cannot be empty")

	// Check errors
	ErrCheckNotFound     = errors.New("check not found")
	ErrInvalidCheckType  = errors.New("invalid check type")
	ErrCheckNotCreated   = errors.New("check can only be started from created status")
	ErrCheckNotRunning   = errors.New("check can only reach a terminal status from running")
	ErrCheckFinished     = errors.New("check already reached a terminal status")
	ErrCheckNotCompleted = errors.New("check has no results yet")
	ErrEmptyTarget       = errors.New("target cannot be empty")

	// Chat errors
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrQuestionTooLong = errors.New("question exceeds the maximum length")

	// Repository errors
	ErrRepositoryOperation = errors.New("repository operation failed")
	ErrSerializationFailed = errors.New("serialization failed")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrMissingRequired = errors.New("missing required field")
)
