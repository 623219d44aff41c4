package udpgps

import "errors"

var (
	ErrConfig    = errors.New("configuration error")
	ErrTransport = errors.New("transport error")
	ErrDecode    = errors.New("decode error")
	ErrConflict  = errors.New("listener session already active")
)

// Error is what every boundary of the package reports. Kind is one of the
// sentinels above, Msg is the user visible prefix ("Send failure", ...).
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func ConfigError(msg string) error {
	return &Error{Kind: ErrConfig, Msg: msg}
}

func SendFailure(err error) error {
	return &Error{Kind: ErrTransport, Msg: "Send failure", Err: err}
}

func ReceiveFailure(err error) error {
	return &Error{Kind: ErrTransport, Msg: "Receive failure", Err: err}
}

func DecodeFailure(err error) error {
	return &Error{Kind: ErrDecode, Msg: "Decode failure", Err: err}
}
