package platform

import "errors"

var (
	// ErrUnauthorized is returned on HTTP 401/403: the PAT is missing,
	// expired, or lacks the required scopes. Never retried.
	ErrUnauthorized = errors.New("platform rejected credentials")

	// ErrNotFound is returned on HTTP 404: unknown repository, PR,
	// iteration, thread, or a path absent at the requested commit.
	ErrNotFound = errors.New("platform resource not found")

	// ErrBinaryFile is returned by GetFile for paths the pipeline never
	// reviews; the request is refused before any network call.
	ErrBinaryFile = errors.New("binary file content not retrievable")
)
