package newsblur

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidParameter = errors.New("newsblur: invalid parameter")
	ErrUnknown          = errors.New("newsblur: unknown error")
	ErrSuspended        = errors.New("newsblur: network suspended")
	ErrRateLimited      = errors.New("newsblur: rate limited")
	ErrUnauthorized     = errors.New("newsblur: not authorized")
)

// GeneralError carries a message reported by the service itself.
type GeneralError struct {
	Message string
}

func (e *GeneralError) Error() string {
	return e.Message
}

// RateLimitError is returned for HTTP 429. RetryAfter is zero when the
// service did not say.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("newsblur: rate limited, retry after %s", e.RetryAfter)
	}
	return "newsblur: rate limited"
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// StatusError is a non-success HTTP response that has no better mapping.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("newsblur: %s returned HTTP %d", e.Path, e.Code)
}

// AccountError attributes a failure to the account it happened in.
type AccountError struct {
	AccountID   string
	AccountName string
	Err         error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %s: %v", e.AccountName, e.Err)
}

func (e *AccountError) Unwrap() error {
	return e.Err
}

func wrapAccount(id, name string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AccountError
	if errors.As(err, &ae) && ae.AccountID == id {
		return err
	}
	return &AccountError{AccountID: id, AccountName: name, Err: err}
}
