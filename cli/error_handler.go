package cli

import (
	"fmt"
	"os"

	"github.com/grovetools/statehub/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
	}
}

// Handle provides user-friendly error messages based on error type
func (h *ErrorHandler) Handle(err error) error {
	switch errors.GetCode(err) {
	case errors.ErrCodeConnectionFailed, errors.ErrCodeDisconnected:
		fmt.Fprintf(os.Stderr, "❌ Cannot reach the statehub daemon. Is it running? Try 'statehub daemon start'.\n")
		return err

	case errors.ErrCodeCallTimeout:
		if hubErr, ok := err.(*errors.HubError); ok {
			fmt.Fprintf(os.Stderr, "❌ Call '%s' timed out after %s\n",
				hubErr.Details["method"], hubErr.Details["timeout"])
		}
		return err

	case errors.ErrCodeSessionNotFound:
		if hubErr, ok := err.(*errors.HubError); ok {
			fmt.Fprintf(os.Stderr, "❌ Session '%s' not found\n", hubErr.Details["sessionId"])
			fmt.Fprintf(os.Stderr, "Run 'statehub sessions list' to see available sessions.\n")
		}
		return err

	case errors.ErrCodeSessionLimit:
		if hubErr, ok := err.(*errors.HubError); ok {
			fmt.Fprintf(os.Stderr, "❌ Session limit reached (max %v). Delete or archive a session first.\n",
				hubErr.Details["max_sessions"])
		}
		return err

	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(os.Stderr, "❌ Configuration not found. Create %s or pass --config.\n", "statehub.yml")
		return err

	default:
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)

		if h.Verbose {
			if hubErr, ok := err.(*errors.HubError); ok {
				fmt.Fprintf(os.Stderr, "\nError details:\n%s\n", hubErr.ToJSON())
			}
		}
		return err
	}
}
