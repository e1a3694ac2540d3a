package pql

import "fmt"

// Error is the domain error type returned by every compilation failure.
// Compilation never returns a raw SQL error; HTTP handlers map Error
// directly to a 400 response.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

func invalid(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

var (
	errEmptyAnd          = invalid("and_ operator has no operands")
	errEmptyOr           = invalid("or_ operator has no operands")
	errEmptyIn           = invalid("in/nin operand list is empty")
	errTextColumnInFile  = invalid("text columns not allowed in this context")
	errUnknownColumn     = invalid("unknown column")
	errComparatorOperand = invalid("comparator and operand shape do not match")
)
