package composer

import (
	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/internal/textstream"
)

// Mode decides what happens to the field when a stream takes it over
type Mode int

const (
	// Append keeps the current value and appends the stream's chunks
	Append Mode = iota
	// Replace clears the value first; the stream produces the full text
	Replace
)

func (m Mode) String() string {
	if m == Replace {
		return "replace"
	}
	return "append"
}

// Bind returns controller hooks that make each session id the ownership
// token of field. Chunks from a session that lost the field are discarded.
func Bind(field *Field, mode Mode, logger *zap.Logger) textstream.Hooks {
	return textstream.Hooks{
		OnStart: func(id string) {
			field.Acquire(id, mode == Replace)
		},
		OnChunk: func(id, chunk string) {
			if err := field.Append(id, chunk); err != nil {
				logger.Debug("Dropping stale chunk",
					zap.String("sessionID", id),
					zap.String("owner", field.Owner()),
					zap.Error(err))
			}
		},
		OnRelease: func(id string) {
			field.Release(id)
		},
	}
}
