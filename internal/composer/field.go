package composer

import (
	"errors"
	"sync"
)

var (
	// ErrNotOwner is returned when a writer that does not hold the field
	// tries to write to it
	ErrNotOwner = errors.New("composer: writer does not own the field")
	// ErrFieldLocked is returned when the user types while a stream owns
	// the field
	ErrFieldLocked = errors.New("composer: field is owned by a stream")
)

// Field is a text value with a single writer. While a stream holds the
// field only that stream may append to it; typing is rejected until the
// stream releases it.
type Field struct {
	mu       sync.Mutex
	value    string
	owner    string
	onChange func(value string)
}

// NewField creates an unowned field
func NewField(initial string) *Field {
	return &Field{value: initial}
}

// OnChange registers fn to observe every value change. fn runs with the
// field lock held and must not call back into the field.
func (f *Field) OnChange(fn func(value string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

// Acquire hands the field to token, revoking any previous owner. With reset
// the value is cleared so the new owner's output replaces it.
func (f *Field) Acquire(token string, reset bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner = token
	if reset {
		f.setLocked("")
	}
}

// Append adds text on behalf of token
func (f *Field) Append(token, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token == "" || f.owner != token {
		return ErrNotOwner
	}
	f.setLocked(f.value + text)
	return nil
}

// Release gives up ownership if token still holds the field
func (f *Field) Release(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner != token {
		return false
	}
	f.owner = ""
	return true
}

// Type replaces the value with user input
func (f *Field) Type(value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner != "" {
		return ErrFieldLocked
	}
	f.setLocked(value)
	return nil
}

// Reset discards the value and any ownership, as on submit
func (f *Field) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner = ""
	f.setLocked("")
}

// Value returns the current text
func (f *Field) Value() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Owner returns the token holding the field or ""
func (f *Field) Owner() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner
}

// Locked reports whether a stream owns the field
func (f *Field) Locked() bool {
	return f.Owner() != ""
}

func (f *Field) setLocked(value string) {
	if value == f.value {
		return
	}
	f.value = value
	if f.onChange != nil {
		f.onChange(value)
	}
}
