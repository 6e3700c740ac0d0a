package playback

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	ErrNoTrack       = errors.New("no track playing")
	ErrNotPlaying    = errors.New("not playing")
	ErrNotPaused     = errors.New("not paused")
	ErrAlreadyPaused = errors.New("already paused")
	ErrClosed        = errors.New("controller closed")
	ErrMessageGone   = errors.New("message already gone")
)

// SinkError wraps a voice sink failure with the operation that failed.
type SinkError struct {
	Op  string // connect, play, stop, pause, resume, disconnect
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("voice sink %s: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// IsSinkError reports whether err carries a SinkError.
func IsSinkError(err error) bool {
	var se *SinkError
	return errors.As(err, &se)
}
