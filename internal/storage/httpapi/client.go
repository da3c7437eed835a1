package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	syncerr "github.com/alexjbarnes/cloudsync/internal/errors"
	"github.com/tidwall/gjson"
)

const (
	// maxRedirects matches the default net/http limit.
	maxRedirects = 10

	httpClientTimeout = 60 * time.Second

	// maxAPIResponseBytes caps JSON response reads. Downloads are not
	// capped.
	maxAPIResponseBytes = 4 * 1024 * 1024

	// argHeader carries JSON arguments on content endpoints, whose body
	// is the file itself.
	argHeader = "Dropbox-API-Arg"

	defaultRetryAfter = time.Second
)

// apiError is a non-2xx response from the provider.
type apiError struct {
	endpoint   string
	status     int
	summary    string
	retryAfter time.Duration
	body       string
}

func (e *apiError) Error() string {
	if e.summary != "" {
		return fmt.Sprintf("API %s (%d): %s", e.endpoint, e.status, e.summary)
	}

	return fmt.Sprintf("API %s returned status %d: %s", e.endpoint, e.status, e.body)
}

// errorRule maps a provider error to a kind. A rule matches when its
// status matches (0 matches any) and error_summary starts with prefix
// ("" matches any). The first matching rule wins.
type errorRule struct {
	status int
	prefix string
	kind   syncerr.Kind
}

var errorRules = []errorRule{
	{status: http.StatusUnauthorized, kind: syncerr.KindNotAuthenticated},
	{status: http.StatusTooManyRequests, kind: syncerr.KindRateLimited},
	{prefix: "too_many_requests", kind: syncerr.KindRateLimited},
	{prefix: "too_many_write_operations", kind: syncerr.KindRateLimited},
	{prefix: "path/not_found", kind: syncerr.KindNoContent},
	{prefix: "path_lookup/not_found", kind: syncerr.KindNoContent},
	{prefix: "from_lookup/not_found", kind: syncerr.KindNoContent},
	{prefix: "path/conflict", kind: syncerr.KindFileAlreadyExists},
	{prefix: "to/conflict", kind: syncerr.KindFileAlreadyExists},
	{prefix: "path/malformed_path", kind: syncerr.KindUnexpected},
	{status: http.StatusBadRequest, kind: syncerr.KindUnexpected},
}

// classify converts a provider failure into the error taxonomy for
// filename. Transport failures and unmapped responses are I/O errors.
func classify(filename string, err error) error {
	var ae *apiError
	if !errors.As(err, &ae) {
		return syncerr.BackendIO(filename, err)
	}

	for _, r := range errorRules {
		if r.status != 0 && r.status != ae.status {
			continue
		}

		if r.prefix != "" && !strings.HasPrefix(ae.summary, r.prefix) {
			continue
		}

		switch r.kind {
		case syncerr.KindRateLimited:
			return syncerr.RateLimited(filename, ae)
		case syncerr.KindUnexpected:
			return &syncerr.SyncError{Kind: r.kind, Filename: filename, Details: ae.summary, Err: ae}
		default:
			return &syncerr.SyncError{Kind: r.kind, Filename: filename, Err: ae}
		}
	}

	return syncerr.BackendIO(filename, ae)
}

// sameHostRedirectPolicy refuses redirects to another host so the bearer
// token never leaves the provider.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// rpc posts a JSON body to the API host and returns the JSON response.
func (b *Backend) rpc(ctx context.Context, endpoint string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return b.do(req, endpoint, maxAPIResponseBytes)
}

// content calls a content endpoint with args in the argument header and
// data, if any, as the octet-stream body.
func (b *Backend) content(ctx context.Context, endpoint string, args any, data []byte) ([]byte, error) {
	arg, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshalling arguments: %w", err)
	}

	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.contentURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set(argHeader, headerSafeJSON(arg))

	if data != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	return b.do(req, endpoint, -1)
}

// headerSafeJSON escapes every rune at or above 0x7F in encoded JSON
// as \uXXXX, using surrogate pairs outside the BMP. The argument header
// must be pure ASCII.
func headerSafeJSON(encoded []byte) string {
	var sb strings.Builder
	sb.Grow(len(encoded))

	for _, r := range string(encoded) {
		if r < 0x7f {
			sb.WriteRune(r)
			continue
		}

		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			fmt.Fprintf(&sb, `\u%04x\u%04x`, r1, r2)
			continue
		}

		fmt.Fprintf(&sb, `\u%04x`, r)
	}

	return sb.String()
}

// do sends req with the bearer token. A negative limit reads the whole
// body.
func (b *Backend) do(req *http.Request, endpoint string, limit int64) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+b.token)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if limit >= 0 {
		r = io.LimitReader(resp.Body, limit)
	}

	respBody, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(endpoint, resp, respBody)
	}

	return respBody, nil
}

func newAPIError(endpoint string, resp *http.Response, body []byte) *apiError {
	e := &apiError{
		endpoint: endpoint,
		status:   resp.StatusCode,
		body:     sanitizeResponseBody(body),
	}

	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		e.summary = parsed.Get("error_summary").String()

		if secs := parsed.Get("error.retry_after"); secs.Exists() {
			e.retryAfter = time.Duration(secs.Float() * float64(time.Second))
		}
	}

	if e.retryAfter == 0 {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			e.retryAfter = time.Duration(secs) * time.Second
		}
	}

	return e
}

// retryAfter returns the delay a rate-limited response asked for.
func retryAfter(err error) time.Duration {
	var ae *apiError
	if errors.As(err, &ae) && ae.retryAfter > 0 {
		return ae.retryAfter
	}

	return defaultRetryAfter
}

// sanitizeResponseBody truncates a response body to 256 bytes and
// replaces control characters so it is safe to log.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
