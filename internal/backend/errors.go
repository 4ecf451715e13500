package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const maxMessageLength = 512

var (
	// ErrValidation marks bad caller input detected before any request is sent.
	ErrValidation = errors.New("backend: invalid request")
	// ErrDecode marks a successful response whose body could not be decoded.
	ErrDecode = errors.New("backend: undecodable response")
)

// NetworkError reports a transport failure, including cancellation and deadline expiry.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("backend: %s %s: network error: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError reports a 401 or 403 from the backend.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("backend: authentication failed (%d)", e.Status)
}

// ServerError reports any other non-2xx response. Body holds the response text, truncated.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("backend: unexpected status %d: %s", e.Status, e.Body)
}

var strictPolicy = bluemonday.StrictPolicy()

// Message turns an error into text that is safe to show a shopper. Backend bodies are echoed
// to the browser, so markup is stripped.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var (
		netErr    *NetworkError
		authErr   *AuthError
		serverErr *ServerError
	)
	switch {
	case errors.As(err, &netErr):
		return "The rental service is unreachable right now. Please try again."
	case errors.As(err, &authErr):
		if msg := bodyMessage(authErr.Body); msg != "" {
			return msg
		}
		return "Please sign in again."
	case errors.As(err, &serverErr):
		if msg := bodyMessage(serverErr.Body); msg != "" {
			return msg
		}
		if text := http.StatusText(serverErr.Status); text != "" {
			return text
		}
		return "The rental service returned an error."
	case errors.Is(err, ErrDecode):
		return "The rental service returned an unexpected response."
	}
	return SanitizeText(strings.TrimPrefix(err.Error(), "backend: "))
}

// SanitizeText strips markup and control characters and bounds the length.
func SanitizeText(value string) string {
	value = html.UnescapeString(strictPolicy.Sanitize(value))
	value = strings.Join(strings.Fields(value), " ")
	if len(value) > maxMessageLength {
		value = value[:maxMessageLength]
	}
	return value
}

// bodyMessage prefers the msg/message/error field of a JSON body and falls back to the raw text.
func bodyMessage(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	if strings.HasPrefix(body, "{") {
		var payload struct {
			Msg     string `json:"msg"`
			Message string `json:"message"`
			Error   string `json:"error"`
			Detail  string `json:"detail"`
		}
		if err := json.Unmarshal([]byte(body), &payload); err == nil {
			for _, candidate := range []string{payload.Msg, payload.Message, payload.Detail, payload.Error} {
				if strings.TrimSpace(candidate) != "" {
					return SanitizeText(candidate)
				}
			}
		}
	}
	return SanitizeText(body)
}
