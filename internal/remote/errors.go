package remote

import "fmt"

// HTTPError is returned when a server answers with a status the caller does
// not accept. It carries the full response body for diagnostics.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: http %d", e.Method, e.URL, e.StatusCode)
}
