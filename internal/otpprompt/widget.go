// Package otpprompt holds the state of the confirmation-code prompt shown while
// a sensitive operation waits for its SMS code.
package otpprompt

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// CodeLength is the number of digits a confirmation code has.
const CodeLength = 6

const (
	MsgInvalidCode  = "Invalid code. Please check the SMS and try again."
	MsgVerifyFailed = "Code verification failed. Please try again."
)

var (
	ErrClosed         = errors.New("prompt is closed")
	ErrCodeIncomplete = errors.New("code must have exactly 6 digits")
	ErrVerifying      = errors.New("verification already in progress")
)

// VerifyFunc checks a complete code. false means the code was rejected.
type VerifyFunc func(ctx context.Context, code string) (bool, error)

// Widget collects a 6-digit code and submits it to a VerifyFunc.
// Any number of attempts is allowed while the widget stays open.
type Widget struct {
	mu        sync.Mutex
	open      bool
	code      []byte
	errMsg    string
	verifying bool

	verify    VerifyFunc
	onClose   func()
	onSuccess func()
}

type Option func(*Widget)

// WithOnClose registers a callback for every open to closed transition.
func WithOnClose(fn func()) Option {
	return func(w *Widget) { w.onClose = fn }
}

// WithOnSuccess registers a callback for a positive verification.
func WithOnSuccess(fn func()) Option {
	return func(w *Widget) { w.onSuccess = fn }
}

func NewWidget(verify VerifyFunc, opts ...Option) *Widget {
	w := &Widget{verify: verify}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Snapshot is what the browser renders.
type Snapshot struct {
	Open       bool   `json:"open"`
	CodeLength int    `json:"code_length"`
	Digits     int    `json:"digits"`
	CanSubmit  bool   `json:"can_submit"`
	Verifying  bool   `json:"verifying"`
	Error      string `json:"error,omitempty"`
}

func (w *Widget) Open() {
	w.mu.Lock()
	w.open = true
	w.mu.Unlock()
}

// Close clears the code and the error. It does not abort an in-flight verify call.
func (w *Widget) Close() {
	w.mu.Lock()
	if !w.open {
		w.mu.Unlock()
		return
	}
	w.open = false
	w.code = w.code[:0]
	w.errMsg = ""
	onClose := w.onClose
	w.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (w *Widget) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// Type appends the digits in keys. Other characters are ignored and input past
// the sixth digit is dropped.
func (w *Widget) Type(keys string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return ErrClosed
	}
	for i := 0; i < len(keys) && len(w.code) < CodeLength; i++ {
		if c := keys[i]; c >= '0' && c <= '9' {
			w.code = append(w.code, c)
		}
	}
	return nil
}

func (w *Widget) Backspace() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return ErrClosed
	}
	if len(w.code) > 0 {
		w.code = w.code[:len(w.code)-1]
	}
	return nil
}

func (w *Widget) Clear() {
	w.mu.Lock()
	w.code = w.code[:0]
	w.mu.Unlock()
}

func (w *Widget) CanSubmit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canSubmitLocked()
}

func (w *Widget) canSubmitLocked() bool {
	return w.open && len(w.code) == CodeLength && !w.verifying
}

// Submit runs the verify callback on the current code. The returned error is
// non-nil only when submission was not possible; verification failures are
// reported through the widget's error text and a false result.
func (w *Widget) Submit(ctx context.Context) (bool, error) {
	w.mu.Lock()
	switch {
	case !w.open:
		w.mu.Unlock()
		return false, ErrClosed
	case w.verifying:
		w.mu.Unlock()
		return false, ErrVerifying
	case len(w.code) != CodeLength:
		w.mu.Unlock()
		return false, ErrCodeIncomplete
	}
	code := string(w.code)
	w.verifying = true
	w.errMsg = ""
	w.mu.Unlock()

	ok, err := w.verify(ctx, code)

	w.mu.Lock()
	w.verifying = false
	if err != nil || !ok {
		if w.open {
			w.errMsg = failureMessage(err)
		}
		w.mu.Unlock()
		return false, nil
	}
	onSuccess := w.onSuccess
	w.mu.Unlock()

	if onSuccess != nil {
		onSuccess()
	}
	w.Close()
	return true, nil
}

func failureMessage(err error) string {
	if err == nil {
		return MsgInvalidCode
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return MsgVerifyFailed
}

func (w *Widget) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		Open:       w.open,
		CodeLength: CodeLength,
		Digits:     len(w.code),
		CanSubmit:  w.canSubmitLocked(),
		Verifying:  w.verifying,
		Error:      w.errMsg,
	}
}
