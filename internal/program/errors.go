package program

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ValidationError reports malformed input, such as an id outside the
// u32 range accepted by the program.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an account that does not exist (yet).
type NotFoundError struct {
	Kind    string
	Address solana.PublicKey
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s account %s not found", e.Kind, e.Address)
}

// TransportError wraps a failure to reach the ledger.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// InconsistencyError reports on-chain data that breaks a program invariant.
type InconsistencyError struct {
	Reason string
	Err    error
}

func (e *InconsistencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inconsistent state: %s: %v", e.Reason, e.Err)
	}
	return "inconsistent state: " + e.Reason
}

func (e *InconsistencyError) Unwrap() error { return e.Err }

func Inconsistent(format string, args ...any) error {
	return &InconsistencyError{Reason: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsInconsistent(err error) bool {
	var ie *InconsistencyError
	return errors.As(err, &ie)
}
