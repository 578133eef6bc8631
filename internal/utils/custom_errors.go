package utils

import "errors"

var (
	ErrInvalidRepository = errors.New("repository must be in owner/name form")
	ErrRepoNotFound      = errors.New("repository not found")
	ErrAuthFailed        = errors.New("gh cli is not authenticated")
	ErrGHNotFound        = errors.New("gh cli not found")
	ErrNoOfflineData     = errors.New("no cached data available for offline mode")
	ErrCacheIntegrity    = errors.New("cache integrity violation")
	ErrUnknownEntityKind = errors.New("unknown entity kind")
	ErrUnknownReport     = errors.New("unknown report kind")
)
