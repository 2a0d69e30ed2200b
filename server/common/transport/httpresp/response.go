package httpresp

const (
	ErrUnauthorized       = "unauthorized"
	ErrMissingBearerToken = "bearer token is required"
	ErrInvalidToken       = "invalid token"
	ErrRateLimited        = "too many requests"
	ErrNotFound           = "not found"
	ErrUpstreamFailed     = "upstream request failed"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type URLResponse struct {
	URL string `json:"url"`
}

// Envelope is the normalized { success, data, message } shape returned by the
// booking API and by every client call that must not surface raw errors.
type Envelope[T any] struct {
	Success    bool   `json:"success"`
	Data       T      `json:"data"`
	Message    string `json:"message,omitempty"`
	StatusCode int    `json:"-"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewURLResponse(url string) URLResponse {
	return URLResponse{URL: url}
}

func Success[T any](data T) Envelope[T] {
	return Envelope[T]{Success: true, Data: data}
}

func Failure[T any](statusCode int, message string) Envelope[T] {
	return Envelope[T]{Success: false, Message: message, StatusCode: statusCode}
}
