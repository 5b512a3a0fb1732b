package repository

import "github.com/pkg/errors"

var (
	ErrCredentialAlreadyStored = errors.New("credential already stored")
	ErrInvalidFilter           = errors.New("invalid filter")
)
