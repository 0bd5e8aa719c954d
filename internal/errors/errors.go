// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchTimedOut is returned when a remote fetch exceeds its time budget.
	ErrFetchTimedOut = errors.New("fetch timed out")
	// ErrAuthenticationFailed is returned when GitHub rejects the stored credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrUnauthorized is returned when a non-admin calls an admin-only operation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// ErrInvalidRepoFormat is returned when a repository link is not a GitHub URL or 'owner/name'.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// RemoteUnavailable means the GitHub API could not be reached or refused the call.
type RemoteUnavailable struct {
	Repo string
	Err  error
}

func (e *RemoteUnavailable) Error() string {
	return fmt.Sprintf("Couldn't connect to %s. Check URL. %v", e.Repo, e.Err)
}

func (e *RemoteUnavailable) Unwrap() error { return e.Err }

// RemoteDataError means GitHub answered but the repository could not be
// resolved or its data could not be read.
type RemoteDataError struct {
	Repo string
	Err  error
}

func (e *RemoteDataError) Error() string {
	return fmt.Sprintf("Connected to %s but couldn't fetch data. %v", e.Repo, e.Err)
}

func (e *RemoteDataError) Unwrap() error { return e.Err }

// AuthError carries the reason GitHub rejected a set of credentials.
// It matches ErrAuthenticationFailed with errors.Is.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %q: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuthenticationFailed }

// IsRemote reports whether err is one of the remote failure kinds that are
// recorded on a repository record.
func IsRemote(err error) bool {
	var unavailable *RemoteUnavailable
	var data *RemoteDataError
	return errors.As(err, &unavailable) || errors.As(err, &data)
}
