package protocol

import (
	"errors"

	"levelverse.io/internal/levels"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnknownMethod   = "E_UNKNOWN_METHOD"
	ErrUnknownSub      = "E_UNKNOWN_SUB"

	// Level operations.
	ErrMissingUser  = "E_MISSING_USER"
	ErrInvalidLevel = "E_INVALID_LEVEL"
	ErrPermission   = "E_PERMISSION"
	ErrNotAllowed   = "E_NOT_ALLOWED"
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrUnknownMethod:   {},
	ErrUnknownSub:      {},
	ErrMissingUser:     {},
	ErrInvalidLevel:    {},
	ErrPermission:      {},
	ErrNotAllowed:      {},
	ErrBadRequest:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

var levelCodes = map[levels.Code]string{
	levels.CodeMissingUser:     ErrMissingUser,
	levels.CodeInvalidLevel:    ErrInvalidLevel,
	levels.CodePermissionError: ErrPermission,
	levels.CodeNotAllowed:      ErrNotAllowed,
	levels.CodeBadRequest:      ErrBadRequest,
	levels.CodeInternal:        ErrInternal,
}

// ErrorFor converts an operation error into its wire form. Internal
// failures never expose their cause.
func ErrorFor(err error) *ErrorBody {
	if err == nil {
		return nil
	}
	var perr *ProtoError
	if errors.As(err, &perr) {
		return &ErrorBody{Code: perr.Code, Message: perr.Message}
	}
	code := levels.CodeOf(err)
	wire, ok := levelCodes[code]
	if !ok || code == levels.CodeInternal {
		return &ErrorBody{Code: ErrInternal, Message: "internal error"}
	}
	var lerr *levels.Error
	if errors.As(err, &lerr) {
		return &ErrorBody{Code: wire, Message: lerr.Message}
	}
	return &ErrorBody{Code: wire, Message: err.Error()}
}

// ProtoError is a protocol-level rejection that carries its wire code.
type ProtoError struct {
	Code    string
	Message string
}

func (e *ProtoError) Error() string { return e.Code + ": " + e.Message }
