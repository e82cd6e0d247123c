// Package integrations holds the network clients behind the gateway
// dependencies and the router that dispatches requests to them.
package integrations

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
)

// maxErrorMessage bounds the upstream body echoed into an error message
const maxErrorMessage = 256

// Classify converts the outcome of one resty call into the gateway error
// taxonomy. It returns nil for a 2xx response.
func Classify(service string, resp *resty.Response, err error) error {
	if err != nil {
		return classifyTransport(service, err)
	}
	if resp == nil {
		return errors.NewExternalError(service, "empty response")
	}
	if resp.IsSuccess() {
		return nil
	}
	return errors.NewHTTPError(service, resp.StatusCode(), upstreamMessage(resp.Body()))
}

// Decode unmarshals a successful response body into dest
func Decode(service string, body []byte, dest interface{}) error {
	if len(body) == 0 {
		return errors.NewMalformedResponseError(service, "empty response body")
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return errors.NewMalformedResponseError(service, "invalid response body: "+err.Error()).WithCause(err)
	}
	return nil
}

func classifyTransport(service string, err error) error {
	if _, ok := errors.As(err); ok {
		return err
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeoutError(service + " request").WithCause(err)
	}

	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return errors.NewHTTPError(service+"-oauth", retrieveErr.Response.StatusCode, "token endpoint failed").WithCause(err)
		}
		return errors.NewAuthenticationError("token request rejected for " + service).WithCause(err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewTimeoutError(service + " request").WithCause(err)
	}

	return errors.NewExternalError(service, err.Error()).WithCause(err)
}

// upstreamMessage extracts a readable message from an error body. JSON
// bodies of the form {"error":{"message":...}}, {"error":"..."} and
// {"message":...} are understood; anything else is echoed truncated.
func upstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Message != "" {
			return truncate(envelope.Message)
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "" {
			return truncate(nested.Message)
		}
		var flat string
		if json.Unmarshal(envelope.Error, &flat) == nil && flat != "" {
			return truncate(flat)
		}
	}

	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	if len(s) <= maxErrorMessage {
		return s
	}
	cut := maxErrorMessage
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
