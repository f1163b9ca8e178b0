package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tengjizhang/feedsync/internal/newsblur"
	"github.com/tengjizhang/feedsync/internal/store"
)

const (
	exitInternal     = 1
	exitInvalidInput = 2
	exitNotFound     = 3
	exitRemote       = 4
)

// classify maps an error to its exit code and the label printed with it.
func classify(err error) (int, string) {
	var ae *newsblur.AccountError
	switch {
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, newsblur.ErrInvalidParameter):
		return exitInvalidInput, "invalid-input"
	case errors.Is(err, store.ErrNotFound):
		return exitNotFound, "not-found"
	case errors.Is(err, store.ErrConflict):
		return exitInvalidInput, "conflict"
	case errors.Is(err, newsblur.ErrUnauthorized):
		return exitRemote, "auth"
	case errors.Is(err, newsblur.ErrRateLimited):
		return exitRemote, "rate-limited"
	case errors.Is(err, newsblur.ErrSuspended):
		return exitRemote, "suspended"
	case errors.Is(err, context.Canceled):
		return exitInternal, "cancelled"
	case errors.As(err, &ae):
		return exitRemote, "remote"
	default:
		return exitInternal, "internal"
	}
}

func ErrorExitCode(err error) int {
	if err == nil {
		return 0
	}
	code, _ := classify(err)
	return code
}

func FormatError(err error) string {
	if err == nil {
		return ""
	}
	_, kind := classify(err)
	return fmt.Sprintf("Error [%s]: %v", kind, err)
}

func PrintError(err error) {
	fprintError(os.Stderr, err)
}

func fprintError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(w, FormatError(err))
}
