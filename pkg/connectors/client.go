package connectors

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lorehq/lore/pkg/httpclient"
)

// newHTTPClient builds the retrying client every REST connector pages
// with. Retry-After is honored when upstream sends it.
func newHTTPClient() *httpclient.Client {
	return httpclient.New(
		httpclient.WithTimeout(60*time.Second),
		httpclient.WithMaxRetries(3),
		httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeaders),
	)
}

// doJSON executes a request, classifies failures into typed connector
// errors, and decodes a 2xx JSON body into out. Do returns the last
// response alongside the error for HTTP-level failures, so status
// classification works for retried and unretried statuses alike.
func doJSON(client *httpclient.Client, req *http.Request, out any, connectorType, what string) error {
	resp, err := client.Do(req)
	if resp == nil {
		return newError(KindTransientUpstream, connectorType, err, what+" request failed")
	}
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := resp.StatusCode
		drain(resp)
		return classifyStatus(connectorType, status, what)
	}
	defer drain(resp)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", what, err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// copyBounded copies at most limit bytes from src.
func copyBounded(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	return io.Copy(dst, io.LimitReader(src, limit))
}

// decodeBody decodes a JSON response body, then drains and closes it.
func decodeBody(resp *http.Response, out any) error {
	defer drain(resp)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
