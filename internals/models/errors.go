package models

import "errors"

var (
	ErrKeyUnavailable  = errors.New("server key not found")
	ErrUnauthorized    = errors.New("invalid api key")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("message not found")
	ErrPersistence     = errors.New("persistence failure")
)
