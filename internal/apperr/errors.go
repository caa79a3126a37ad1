package apperr

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrSelfReference   = errors.New("self reference not allowed")
	ErrSync            = errors.New("sync error")
	ErrSend            = errors.New("send error")
	ErrRegistration    = errors.New("registration error")
	ErrBusy            = errors.New("operation already in flight")
)
