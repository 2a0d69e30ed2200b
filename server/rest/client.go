package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"umrah_portal/server/common/infra/httpclient"
	commonlog "umrah_portal/server/common/log"
	"umrah_portal/server/common/transport/httpresp"
)

var (
	ErrLoginRequired  = errors.New("login required")
	ErrPaymentFailed  = errors.New("payment failed")
	ErrInvalidRequest = errors.New("invalid request")
)

// APIError carries the localized message shown to the user together with
// the HTTP status that produced it.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

// Result is the normalized outcome of a non-payment call.
type Result[T any] = httpresp.Envelope[T]

// Page is a Laravel style paginator payload.
type Page[T any] struct {
	Items       []T `json:"data"`
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

type pager interface{ isPage() }

func (*Page[T]) isPage() {}

func (p Page[T]) HasMore() bool {
	return p.CurrentPage < p.LastPage
}

// UnmarshalJSON accepts a bare array, a paginator, or a resource collection
// whose paging fields live under meta.
func (p *Page[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*p = Page[T]{Items: items, CurrentPage: 1, LastPage: 1, PerPage: len(items), Total: len(items)}
		return nil
	}
	type paging struct {
		CurrentPage int `json:"current_page"`
		LastPage    int `json:"last_page"`
		PerPage     int `json:"per_page"`
		Total       int `json:"total"`
	}
	var payload struct {
		Items       []T     `json:"data"`
		Meta        *paging `json:"meta"`
		CurrentPage int     `json:"current_page"`
		LastPage    int     `json:"last_page"`
		PerPage     int     `json:"per_page"`
		Total       int     `json:"total"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	pg := paging{CurrentPage: payload.CurrentPage, LastPage: payload.LastPage, PerPage: payload.PerPage, Total: payload.Total}
	if payload.Meta != nil {
		pg = *payload.Meta
	}
	if pg.CurrentPage == 0 {
		pg.CurrentPage = 1
	}
	if pg.LastPage == 0 {
		pg.LastPage = pg.CurrentPage
	}
	*p = Page[T]{Items: payload.Items, CurrentPage: pg.CurrentPage, LastPage: pg.LastPage, PerPage: pg.PerPage, Total: pg.Total}
	return nil
}

type Empty struct{}

// UnreadCount accepts a bare number or an object carrying count or
// unread_count.
type UnreadCount struct {
	Count int
}

func (u *UnreadCount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		return json.Unmarshal(data, &u.Count)
	}
	var payload struct {
		Count       *int `json:"count"`
		UnreadCount *int `json:"unread_count"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	switch {
	case payload.UnreadCount != nil:
		u.Count = *payload.UnreadCount
	case payload.Count != nil:
		u.Count = *payload.Count
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Client is shared by the per-area clients. Locale picks the language of
// user facing failure messages.
type Client struct {
	http     *httpclient.Client
	locale   string
	authPath string
}

func NewClient(http *httpclient.Client, locale string) *Client {
	if strings.TrimSpace(locale) == "" {
		locale = defaultLocale
	}
	return &Client{http: http, locale: locale, authPath: defaultBroadcastAuthPath}
}

// WithBroadcastAuthPath overrides the channel authorization endpoint.
func (c *Client) WithBroadcastAuthPath(path string) *Client {
	if strings.TrimSpace(path) != "" {
		c.authPath = path
	}
	return c
}

func (c *Client) message(key string) string {
	return Message(c.locale, key)
}

type envelope struct {
	Success *bool               `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

type call struct {
	method string
	path   string
	query  url.Values
	token  string
	body   any
	raw    []byte
	ctype  string
}

func jsonCall(method, path, token string, body any) call {
	return call{method: method, path: path, token: token, body: body}
}

// do runs the call and decodes the envelope's data into T. The returned
// error is never a transport error; it is an *APIError with a localized
// message.
func do[T any](ctx context.Context, c *Client, req call) (T, *APIError) {
	var zero T

	payload := req.raw
	if req.body != nil {
		if err := validate.Struct(req.body); err != nil {
			var invalid *validator.InvalidValidationError
			if !errors.As(err, &invalid) {
				return zero, &APIError{Message: c.message(msgInvalidRequest), Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
			}
		}
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return zero, &APIError{Message: c.message(msgInvalidRequest), Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
		}
		payload = encoded
	}

	resp, err := c.http.Do(ctx, httpclient.Request{
		Method:      req.method,
		Path:        req.path,
		Query:       req.query,
		Token:       req.token,
		Body:        payload,
		ContentType: req.ctype,
	})
	if err != nil {
		commonlog.Warnf("event=rest_call action=%s status=failed path=%s error=%v", req.method, req.path, err)
		return zero, &APIError{Message: c.message(msgNetworkError), Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(resp.Body, &env)

	if resp.StatusCode >= http.StatusBadRequest {
		return zero, c.statusError(resp.StatusCode, env)
	}
	if decodeErr != nil {
		if len(bytes.TrimSpace(resp.Body)) == 0 {
			return zero, nil
		}
		var bare T
		if err := json.Unmarshal(resp.Body, &bare); err == nil {
			return bare, nil
		}
		return zero, &APIError{StatusCode: resp.StatusCode, Message: c.message(msgRequestFailed), Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if env.Success != nil && !*env.Success {
		message := env.Message
		if message == "" {
			message = c.message(msgRequestFailed)
		}
		return zero, &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	var out T
	data := env.Data
	if env.Success == nil {
		if _, paged := any(&out).(pager); paged || len(data) == 0 {
			data = resp.Body
		}
	}
	if len(data) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return zero, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, &APIError{StatusCode: resp.StatusCode, Message: c.message(msgRequestFailed), Err: fmt.Errorf("decode data: %w", err)}
	}
	return out, nil
}

func (c *Client) statusError(status int, env envelope) *APIError {
	serverMessage := env.Message
	switch status {
	case http.StatusUnauthorized:
		return &APIError{StatusCode: status, Message: c.message(msgLoginRequired), Err: ErrLoginRequired}
	case http.StatusNotFound:
		return &APIError{StatusCode: status, Message: orDefault(serverMessage, c.message(msgNotFound))}
	case http.StatusTooManyRequests:
		return &APIError{StatusCode: status, Message: c.message(msgRateLimited)}
	case http.StatusUnprocessableEntity:
		if serverMessage == "" {
			serverMessage = firstFieldError(env.Errors)
		}
		return &APIError{StatusCode: status, Message: orDefault(serverMessage, c.message(msgInvalidRequest)), Err: ErrInvalidRequest}
	}
	return &APIError{StatusCode: status, Message: orDefault(serverMessage, c.message(msgRequestFailed))}
}

// result wraps do for the clients that report failures in the envelope.
func result[T any](ctx context.Context, c *Client, req call) Result[T] {
	data, apiErr := do[T](ctx, c, req)
	if apiErr != nil {
		return httpresp.Failure[T](apiErr.StatusCode, apiErr.Message)
	}
	return httpresp.Success(data)
}

func firstFieldError(errs map[string][]string) string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(errs[k]) > 0 {
			return errs[k][0]
		}
	}
	return ""
}

func pageQuery(page int) url.Values {
	if page < 1 {
		page = 1
	}
	return url.Values{"page": []string{strconv.Itoa(page)}}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func escape(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}
