// Package gameerr задаёт таксономию ошибок игрового сервера. Обработчики
// сообщений решают по Kind, что отправить клиенту и что только залогировать.
package gameerr

import (
	"errors"
	"fmt"
)

// Kind - класс ошибки
type Kind int

const (
	// AuthFailure - неверные учётные данные, занятое имя, повторный вход.
	AuthFailure Kind = iota + 1
	// ValidationFailure - некорректный запрос; состояние не меняется.
	ValidationFailure
	// PersistenceFailure - ошибка хранилища; игра продолжается в памяти.
	PersistenceFailure
	// GenerationFailure - генератор дал нечисловую высоту.
	GenerationFailure
)

func (k Kind) String() string {
	switch k {
	case AuthFailure:
		return "auth"
	case ValidationFailure:
		return "validation"
	case PersistenceFailure:
		return "persistence"
	case GenerationFailure:
		return "generation"
	default:
		return "unknown"
	}
}

// Error - ошибка с классом и операцией, в которой она возникла
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New создаёт ошибку без причины
func New(kind Kind, op, message string) error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap оборачивает err в ошибку указанного класса. nil остаётся nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation - сокращение для ValidationFailure
func Validation(op, format string, args ...interface{}) error {
	return &Error{Kind: ValidationFailure, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Is сообщает, относится ли err (или что-то в его цепочке) к классу kind
func Is(err error, kind Kind) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}

// Message возвращает текст для клиента без внутренних подробностей
func Message(err error) string {
	var ge *Error
	if errors.As(err, &ge) && ge.Message != "" {
		return ge.Message
	}
	return "request rejected"
}
