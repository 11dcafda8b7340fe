package fault

import "fmt"

// HTTPError is the typed failure produced at the origin of an HTTP call.
// Carrying the status code as a field keeps the classifier from re-parsing
// message strings.
type HTTPError struct {
	Status int
	URL    string
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Status, e.URL)
}

// ExecError is the typed failure produced by the subprocess wrapper around
// the external content-processing tool.
type ExecError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("command %q exited %d: %s", e.Command, e.ExitCode, e.Stderr)
}
