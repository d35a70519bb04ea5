package otpprompt

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Result is the outcome of a confirm callback. ResultNone stands for a callback
// that reports nothing, which the dialog counts as success.
type Result int

const (
	ResultNone Result = iota
	ResultConfirmed
	ResultRejected
)

// ConfirmFunc is the callback a dialog is opened with.
type ConfirmFunc func(ctx context.Context, code string) (Result, error)

// FromBool adapts a boolean verifier into a ConfirmFunc.
func FromBool(fn func(ctx context.Context, code string) (bool, error)) ConfirmFunc {
	return func(ctx context.Context, code string) (Result, error) {
		ok, err := fn(ctx, code)
		if err != nil {
			return ResultRejected, err
		}
		if ok {
			return ResultConfirmed, nil
		}
		return ResultRejected, nil
	}
}

// Dialog is the modal around a Widget. Errors raised by the confirm callback
// are logged and shown to the widget as a rejected code.
type Dialog struct {
	widget  *Widget
	confirm ConfirmFunc
	logger  *logrus.Entry
}

func NewDialog(confirm ConfirmFunc, logger *logrus.Entry, opts ...Option) *Dialog {
	d := &Dialog{confirm: confirm, logger: logger}
	d.widget = NewWidget(d.verify, opts...)
	return d
}

func (d *Dialog) verify(ctx context.Context, code string) (bool, error) {
	res, err := d.confirm(ctx, code)
	if err != nil {
		if d.logger != nil {
			d.logger.WithError(err).Warn("OTP confirmation failed")
		}
		return false, nil
	}
	return res != ResultRejected, nil
}

func (d *Dialog) Widget() *Widget { return d.widget }

func (d *Dialog) Open()              { d.widget.Open() }
func (d *Dialog) Close()             { d.widget.Close() }
func (d *Dialog) IsOpen() bool       { return d.widget.IsOpen() }
func (d *Dialog) Snapshot() Snapshot { return d.widget.Snapshot() }
