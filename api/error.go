package api

import "fmt"

// StatusError is returned when the server answers with a status code
// outside the success range. The response body is kept for logging.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d", e.Code)
}

// success mirrors the server contract: anything below 400 is treated as a
// successful response, including redirects the http client followed.
func success(code int) bool {
	return code >= 200 && code < 400
}
