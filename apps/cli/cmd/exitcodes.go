package cmd

// Exit codes for the vptest CLI
const (
	// ExitSuccess indicates all tests passed
	ExitSuccess = 0

	// ExitTestFailure indicates at least one bad outcome
	ExitTestFailure = 1

	// ExitWorkerError indicates the worker reported an error event
	ExitWorkerError = 2

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitSpawnError indicates the worker could not be started
	ExitSpawnError = 4

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64

	// ExitInterrupted indicates the run was stopped by the user
	ExitInterrupted = 130
)
