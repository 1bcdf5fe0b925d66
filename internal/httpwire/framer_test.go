package httpwire

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestWriteRequestAbsoluteForm(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://device-local/api/status", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("X-Test", "1")

	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "GET http://device-local/api/status HTTP/1.1\r\n") {
		t.Fatalf("expected absolute-form request line, got: %q", out)
	}
	if strings.Contains(out, "Connection:") {
		t.Fatalf("hop-by-hop Connection header leaked into wire output: %q", out)
	}
	if !strings.Contains(out, "X-Test: 1\r\n") {
		t.Fatalf("expected X-Test header preserved, got: %q", out)
	}
}

func TestWriteRequestContentLengthBody(t *testing.T) {
	req, err := http.NewRequest(http.MethodPut, "http://device-local/upload", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.ContentLength = int64(len("hello world"))

	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Content-Length: 11\r\n") {
		t.Fatalf("expected Content-Length: 11 header, got: %q", out)
	}

	parsed, err := ReadRequest(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	defer parsed.Body.Close()

	body, err := io.ReadAll(parsed.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "hello world" {
		t.Fatalf("body = %q, want %q", body, "hello world")
	}
}

func TestWriteRequestChunkedBody(t *testing.T) {
	req, err := http.NewRequest(http.MethodPut, "http://device-local/upload", strings.NewReader("AAAABBBBCCCC"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.ContentLength = -1 // unknown length forces chunked framing

	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Transfer-Encoding: chunked\r\n") {
		t.Fatalf("expected Transfer-Encoding: chunked header, got: %q", out)
	}

	parsed, err := ReadRequest(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	defer parsed.Body.Close()

	body, err := io.ReadAll(parsed.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) != 12 {
		t.Fatalf("body length = %d, want 12", len(body))
	}
	if string(body) != "AAAABBBBCCCC" {
		t.Fatalf("body = %q, want %q", body, "AAAABBBBCCCC")
	}
}

func TestReadRequestRejectsOriginForm(t *testing.T) {
	raw := "GET /foo HTTP/1.1\r\nHost: example.com\r\n\r\n"
	_, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	if err == nil {
		t.Fatalf("expected an error for an origin-form request-target")
	}
}

func TestResponseRoundTripContentLength(t *testing.T) {
	resp := &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Header:        http.Header{"X-Upstream": []string{"yes"}},
		Body:          io.NopCloser(strings.NewReader("hello")),
		ContentLength: 5,
	}

	var buf bytes.Buffer
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatalf("write response: %v", err)
	}

	parsed, err := ReadResponse(bufio.NewReader(&buf), http.MethodGet)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer parsed.Body.Close()

	if parsed.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", parsed.StatusCode)
	}
	body, err := io.ReadAll(parsed.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q, want %q", body, "hello")
	}
}

func TestResponseRoundTripChunked(t *testing.T) {
	resp := &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Header:        http.Header{},
		Body:          io.NopCloser(strings.NewReader("streamed-body")),
		ContentLength: -1,
	}

	var buf bytes.Buffer
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatalf("write response: %v", err)
	}
	if !strings.Contains(buf.String(), "Transfer-Encoding: chunked") {
		t.Fatalf("expected chunked transfer-encoding header, got: %q", buf.String())
	}

	parsed, err := ReadResponse(bufio.NewReader(&buf), http.MethodGet)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer parsed.Body.Close()

	body, err := io.ReadAll(parsed.Body)
	if err != nil {
		t.Fatalf("read chunked body: %v", err)
	}
	if string(body) != "streamed-body" {
		t.Fatalf("body = %q, want %q", body, "streamed-body")
	}
}

func TestReadResponseTruncated(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nshort"
	resp, err := ReadResponse(bufio.NewReader(strings.NewReader(raw)), http.MethodGet)
	if err != nil {
		t.Fatalf("read response headers: %v", err)
	}
	defer resp.Body.Close()

	if _, err := io.ReadAll(resp.Body); err == nil {
		t.Fatalf("expected an error reading a truncated Content-Length body")
	}
}
