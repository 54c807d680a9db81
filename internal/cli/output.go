package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/dougsko/mm3d/pkg/client"
	"github.com/dougsko/mm3d/pkg/protocol"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the engine refused the command
	ExitCommandError = 2 // the engine could not be reached
)

// ExitError carries the exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// commandFailed classifies an error from the socket client
func commandFailed(err error) error {
	var cmdErr *client.CommandError
	if errors.As(err, &cmdErr) {
		return WrapExitError(ExitFailure, cmdErr.Command, err)
	}
	return WrapExitError(ExitCommandError, "cannot reach mm3d", err)
}

// printResponse writes resp as JSON, or as sorted key: value lines
func printResponse(w io.Writer, format string, resp *protocol.Response) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	keys := make([]string, 0, len(resp.Data))
	for k := range resp.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, textValue(resp.Data[k]))
	}
	if resp.Notice != "" {
		fmt.Fprintf(w, "notice: %s\n", resp.Notice)
	}
	return nil
}

func textValue(v interface{}) string {
	switch v.(type) {
	case string, float64, bool, nil:
		return fmt.Sprint(v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
