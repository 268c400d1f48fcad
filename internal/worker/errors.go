package worker

import (
	"encoding/json"
	"errors"
)

// PermanentError marks an execution failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// detailer is implemented by errors that carry structured failure detail.
type detailer interface {
	Details() json.RawMessage
}

func errorDetails(err error) json.RawMessage {
	var d detailer
	if errors.As(err, &d) {
		return d.Details()
	}
	return nil
}
