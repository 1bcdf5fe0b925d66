// Package httpwire implements the per-request HTTP/1.1 wire framing used on
// overlay streams: an absolute-form request line plus headers and body on
// the way out, and a status line plus headers and body (chunked,
// Content-Length, or read-to-EOF) on the way back. Every stream carries
// exactly one request and one response; there is no keep-alive, pipelining,
// or framing-level retry here.
package httpwire

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
)

// hopByHop headers are stripped before a request or response crosses the
// overlay stream: they describe the immediate hop, not the end-to-end
// message, and must not survive being re-serialized for the next hop.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// stripHopByHop removes hop-by-hop headers in place, including any header
// named by a Connection header's value (RFC 7230 §6.1).
func stripHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			h.Del(textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name)))
		}
	}
	for name := range hopByHopHeaders {
		h.Del(name)
	}
}

// WriteRequest serializes req onto w in absolute-form HTTP/1.1, as required
// by a proxy forwarding a request it did not originate (RFC 7230 §5.3.2):
// the request-target is the full target URL, not just its path, so the
// receiving end does not need out-of-band knowledge of the intended host.
//
// req.URL must already be the absolute target URL (scheme+host+path); the
// caller (RequestForwarder) is responsible for resolving it from routing
// metadata before calling WriteRequest.
func WriteRequest(w io.Writer, req *http.Request) error {
	if req.URL == nil || !req.URL.IsAbs() {
		return fmt.Errorf("httpwire: request URL must be absolute, got %q", req.URL)
	}

	bw := bufio.NewWriter(w)

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", method, req.URL.String()); err != nil {
		return err
	}

	header := req.Header.Clone()
	stripHopByHop(header)
	header.Set("Host", req.URL.Host)

	chunked := req.Body != nil && req.ContentLength < 0
	if req.Body == nil {
		header.Del("Content-Length")
	} else if chunked {
		header.Set("Transfer-Encoding", "chunked")
		header.Del("Content-Length")
	} else {
		header.Set("Content-Length", strconv.FormatInt(req.ContentLength, 10))
	}

	if err := writeHeaders(bw, header); err != nil {
		return err
	}

	if req.Body != nil {
		if chunked {
			cw := httpChunkWriter{w: bw}
			if _, err := io.Copy(cw, req.Body); err != nil {
				return fmt.Errorf("httpwire: copy chunked request body: %w", err)
			}
			if err := cw.Close(); err != nil {
				return err
			}
		} else if req.ContentLength != 0 {
			if _, err := io.Copy(bw, req.Body); err != nil {
				return fmt.Errorf("httpwire: copy request body: %w", err)
			}
		}
	}

	return bw.Flush()
}

func writeHeaders(bw *bufio.Writer, header http.Header) error {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range header[k] {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	_, err := bw.WriteString("\r\n")
	return err
}

// ReadRequest parses an absolute-form HTTP/1.1 request from r, as produced
// by WriteRequest on the Gateway side. The returned Body must be closed by
// the caller; it is decoded from chunked framing or bounded by
// Content-Length, and is empty when the request carries neither (the same
// two framings WriteRequest emits for a request with a body).
func ReadRequest(r *bufio.Reader) (*http.Request, error) {
	req, err := http.ReadRequest(r)
	if err != nil {
		return nil, &FramingError{Err: err}
	}
	if req.URL == nil || req.URL.Host == "" {
		return nil, &FramingError{Err: fmt.Errorf("missing absolute-form request-target")}
	}
	stripHopByHop(req.Header)
	return req, nil
}

// WriteResponse serializes an HTTP response back across the overlay
// stream. When resp.ContentLength is negative (unknown) the body is sent
// chunked; otherwise it is sent as a literal Content-Length body.
func WriteResponse(w io.Writer, resp *http.Response) error {
	bw := bufio.NewWriter(w)

	// resp.Status follows net/http's "200 OK" form; only the reason phrase
	// goes after the code on the wire.
	statusText := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")
	if statusText == "" {
		statusText = http.StatusText(resp.StatusCode)
	}
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", resp.StatusCode, statusText); err != nil {
		return err
	}

	header := resp.Header.Clone()
	stripHopByHop(header)

	chunked := resp.ContentLength < 0
	if chunked {
		header.Set("Transfer-Encoding", "chunked")
		header.Del("Content-Length")
	} else {
		header.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}

	if err := writeHeaders(bw, header); err != nil {
		return err
	}

	if resp.Body != nil {
		if chunked {
			cw := httpChunkWriter{w: bw}
			if _, err := io.Copy(cw, resp.Body); err != nil {
				return fmt.Errorf("httpwire: copy chunked response body: %w", err)
			}
			if err := cw.Close(); err != nil {
				return err
			}
		} else if resp.ContentLength != 0 {
			if _, err := io.Copy(bw, resp.Body); err != nil {
				return fmt.Errorf("httpwire: copy response body: %w", err)
			}
		}
	}

	return bw.Flush()
}

// ReadResponse parses an HTTP/1.1 status line, headers, and body from r.
// Body framing follows RFC 7230 §3.3.3: Transfer-Encoding: chunked first,
// then Content-Length, then (for a response with neither) read until the
// stream is closed by the peer.
func ReadResponse(r *bufio.Reader, forRequestMethod string) (*http.Response, error) {
	// The request method decides framing for bodiless responses (HEAD).
	var forReq *http.Request
	if forRequestMethod != "" {
		forReq = &http.Request{Method: forRequestMethod}
	}
	resp, err := http.ReadResponse(r, forReq)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, &TruncatedError{Err: err}
		}
		return nil, &FramingError{Err: err}
	}
	stripHopByHop(resp.Header)
	return resp, nil
}

// httpChunkWriter writes the HTTP/1.1 chunked transfer encoding framing
// (size-in-hex\r\n, chunk\r\n, ..., 0\r\n\r\n).
type httpChunkWriter struct{ w io.Writer }

func (c httpChunkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(c.w, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := c.w.Write(p); err != nil {
		return 0, err
	}
	if _, err := io.WriteString(c.w, "\r\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c httpChunkWriter) Close() error {
	_, err := io.WriteString(c.w, "0\r\n\r\n")
	return err
}
