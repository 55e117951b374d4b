package bot

import "errors"

var (
	// ErrProxyVerification stops the bot when the upstream proxy could not
	// be verified against the IP echo endpoint.
	ErrProxyVerification = errors.New("bot: IP Config verification failed")

	// ErrStopBot is an escalation that ends the run instead of moving to
	// the next platform, such as an unresolved captcha under the stop
	// policy.
	ErrStopBot = errors.New("bot: stop requested")
)

// ConfigError is a fatal misconfiguration detected before any browser is
// launched. Nothing is retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "bot: configuration: " + e.Field + ": " + e.Reason
}

// Process exit codes shared with the supervisor.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfigError = 2
	ExitStopped     = 3
)

// ExitCode maps a Run error to the process exit code. The supervisor does
// not restart on ExitConfigError or ExitStopped.
func ExitCode(err error) int {
	var ce *ConfigError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ce):
		return ExitConfigError
	case errors.Is(err, ErrStopBot), errors.Is(err, ErrProxyVerification):
		return ExitStopped
	default:
		return ExitFailure
	}
}
