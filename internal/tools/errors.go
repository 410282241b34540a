package tools

import (
	"errors"
	"fmt"
)

// ErrInvokerStopped is returned when submitting to a stopped invoker.
var ErrInvokerStopped = errors.New("tool invoker stopped")

// ToolNotFoundError is returned for names that are not registered.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// InvalidArgumentsError reports arguments that do not fit the tool's input.
type InvalidArgumentsError struct {
	Tool   string
	Detail string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments: %s", e.Detail)
}

func invalidArgs(tool string, format string, args ...any) *InvalidArgumentsError {
	return &InvalidArgumentsError{Tool: tool, Detail: fmt.Sprintf(format, args...)}
}
