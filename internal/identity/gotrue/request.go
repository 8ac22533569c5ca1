package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"zippytrip.org/internal/identity"
)

const maxErrorBody = 64 << 10

type baseClient struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

type outboundRequest struct {
	Method      string
	Path        string
	Bearer      string
	QueryParams map[string]string
	ReqBodyObj  any
	RespObj     any
	// NotFound is the error wrapped into a 404 AuthError.
	NotFound error
}

// errorBody covers the error shapes GoTrue has used across versions.
type errorBody struct {
	Error            string `json:"error"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (b errorBody) text() string {
	for _, s := range []string{b.Msg, b.ErrorDescription, b.Message, b.Error} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func (b *baseClient) execute(ctx context.Context, r outboundRequest) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var body io.Reader
	if r.ReqBodyObj != nil {
		raw, err := json.Marshal(r.ReqBodyObj)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, b.url+"/auth/v1/"+strings.TrimPrefix(r.Path, "/"), body)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", r.Method, r.Path, err)
	}
	if len(r.QueryParams) > 0 {
		q := req.URL.Query()
		for k, v := range r.QueryParams {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("apikey", b.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.Bearer)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", identity.ErrNetwork, r.Method, r.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp, r.NotFound)
	}
	if r.RespObj == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.RespObj); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", identity.ErrNetwork, err)
		}
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response, notFound error) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)

	ae := &identity.AuthError{Status: resp.StatusCode, Code: eb.ErrorCode, Message: eb.text()}
	if ae.Code == "" {
		ae.Code = eb.Error
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		ae.Err = identity.ErrInvalidToken
	case http.StatusNotFound:
		ae.Err = notFound
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		ae.Err = identity.ErrNetwork
	}
	return ae
}
