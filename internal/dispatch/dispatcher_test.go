package dispatch_test

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/frankli0324/go-http1/internal/dispatch"
	"github.com/frankli0324/go-http1/internal/errs"
	"github.com/frankli0324/go-http1/internal/model"
)

type testConn struct {
	cli  net.Conn
	br   *bufio.Reader
	d    *dispatch.Dispatcher
	done chan error
}

func startDispatcher(t *testing.T, h dispatch.Handler, cfg dispatch.Config) *testConn {
	t.Helper()
	srv, cli := net.Pipe()
	if cfg.DisconnectTimeout == 0 {
		cfg.DisconnectTimeout = -1 // in-memory pipes have no FIN to wait for
	}
	d := dispatch.New(srv, h, cfg)
	done := make(chan error, 1)
	go func() { done <- d.Serve(context.Background()) }()
	t.Cleanup(func() { cli.Close() })
	return &testConn{cli: cli, br: bufio.NewReader(cli), d: d, done: done}
}

func (tc *testConn) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-tc.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
		return nil
	}
}

func (tc *testConn) send(t *testing.T, raw string) {
	t.Helper()
	if _, err := tc.cli.Write([]byte(raw)); err != nil {
		t.Fatal(err)
	}
}

func (tc *testConn) readResponse(t *testing.T, method string) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(tc.br, &http.Request{Method: method})
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp, string(body)
}

func echoHandler(ctx context.Context, req *model.Request) (*model.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return model.NewResponse(http.StatusOK, model.StringBody("no body")), nil
	}
	return model.NewResponse(http.StatusOK, model.BytesBody(body)), nil
}

func TestServeSimpleExchange(t *testing.T) {
	h := func(ctx context.Context, req *model.Request) (*model.Response, error) {
		if req.Method != "GET" || req.RequestURI != "/hello" {
			t.Errorf("dispatched %s %s", req.Method, req.RequestURI)
		}
		return model.NewResponse(http.StatusOK, model.StringBody("hello world")), nil
	}
	tc := startDispatcher(t, h, dispatch.Config{})

	tc.send(t, "GET /hello HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")
	resp, body := tc.readResponse(t, "GET")
	if resp.StatusCode != http.StatusOK || body != "hello world" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Date") == "" {
		t.Error("response missing date")
	}
	if err := tc.wait(t); err != nil {
		t.Fatalf("serve returned %v", err)
	}
}

func TestServeKeepAliveSequential(t *testing.T) {
	tc := startDispatcher(t, echoHandler, dispatch.Config{})

	tc.send(t, "POST /a HTTP/1.1\r\nContent-Length: 3\r\n\r\none")
	if _, body := tc.readResponse(t, "POST"); body != "one" {
		t.Fatalf("first echo %q", body)
	}
	tc.send(t, "POST /b HTTP/1.1\r\nContent-Length: 3\r\nConnection: close\r\n\r\ntwo")
	if _, body := tc.readResponse(t, "POST"); body != "two" {
		t.Fatalf("second echo %q", body)
	}
	if err := tc.wait(t); err != nil {
		t.Fatalf("serve returned %v", err)
	}
}

func TestServePipelinedResponseOrder(t *testing.T) {
	// the first handler completes last; responses must still leave in
	// request order
	gate := make(chan struct{})
	h := func(ctx context.Context, req *model.Request) (*model.Response, error) {
		switch req.RequestURI {
		case "/first":
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return model.NewResponse(http.StatusOK, model.StringBody("first")), nil
		default:
			close(gate)
			return model.NewResponse(http.StatusOK, model.StringBody("second")), nil
		}
	}
	tc := startDispatcher(t, h, dispatch.Config{})

	tc.send(t, "GET /first HTTP/1.1\r\n\r\nGET /second HTTP/1.1\r\nConnection: close\r\n\r\n")
	if _, body := tc.readResponse(t, "GET"); body != "first" {
		t.Fatalf("response 1 carried %q", body)
	}
	if _, body := tc.readResponse(t, "GET"); body != "second" {
		t.Fatalf("response 2 carried %q", body)
	}
	if err := tc.wait(t); err != nil {
		t.Fatalf("serve returned %v", err)
	}
}

func TestServeChunkedRequestBody(t *testing.T) {
	tc := startDispatcher(t, echoHandler, dispatch.Config{})

	tc.send(t, "POST /up HTTP/1.1\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n"+
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n")
	if _, body := tc.readResponse(t, "POST"); body != "hello world" {
		t.Fatalf("echoed %q", body)
	}
	tc.wait(t)
}

func TestServeRejectsSmuggledFraming(t *testing.T) {
	tc := startDispatcher(t, echoHandler, dispatch.Config{})

	tc.send(t, "POST / HTTP/1.1\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n0\r\n\r\n")
	resp, _ := tc.readResponse(t, "POST")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
	if !resp.Close {
		t.Error("ambiguous framing must close the connection")
	}
	if err := tc.wait(t); !errors.Is(err, errs.ErrAmbiguousFraming) {
		t.Fatalf("serve returned %v", err)
	}
}

func TestServeOversizedHeader(t *testing.T) {
	tc := startDispatcher(t, echoHandler, dispatch.Config{MaxHeadBytes: 256})

	// the dispatcher stops reading at the size ceiling; over a synchronous
	// pipe the rest of the head must be written aside while we read the 431
	go io.WriteString(tc.cli, "GET / HTTP/1.1\r\nX-Filler: "+strings.Repeat("a", 1024)+"\r\n\r\n")
	resp, _ := tc.readResponse(t, "GET")
	if resp.StatusCode != http.StatusRequestHeaderFieldsTooLarge {
		t.Fatalf("status %d, want 431", resp.StatusCode)
	}
	if err := tc.wait(t); !errors.Is(err, errs.ErrHeaderTooLarge) {
		t.Fatalf("serve returned %v", err)
	}
}

func TestServeErrorResponseToUnreadingPeer(t *testing.T) {
	tc := startDispatcher(t, echoHandler, dispatch.Config{
		MaxHeadBytes:      256,
		DisconnectTimeout: 50 * time.Millisecond,
	})

	// the peer keeps writing its oversized head and never reads; the
	// disconnect window bounds the terminal 431 flush
	go io.WriteString(tc.cli, "GET / HTTP/1.1\r\nX-Filler: "+strings.Repeat("a", 64<<10)+"\r\n\r\n")
	if err := tc.wait(t); !errors.Is(err, errs.ErrHeaderTooLarge) {
		t.Fatalf("serve returned %v", err)
	}
}

func TestServeSlowRequestTimeout(t *testing.T) {
	tc := startDispatcher(t, echoHandler, dispatch.Config{
		SlowRequestTimeout: 30 * time.Millisecond,
	})

	// never send the request; the guard answers for us
	resp, _ := tc.readResponse(t, "GET")
	if resp.StatusCode != http.StatusRequestTimeout {
		t.Fatalf("status %d, want 408", resp.StatusCode)
	}
	err := tc.wait(t)
	if !errors.Is(err, errs.TimeoutError{Scope: errs.ScopeSlowRequest}) {
		t.Fatalf("serve returned %v", err)
	}
}

func TestServeKeepAliveIdleClose(t *testing.T) {
	tc := startDispatcher(t, echoHandler, dispatch.Config{
		KeepAliveTimeout: 30 * time.Millisecond,
	})

	tc.send(t, "GET / HTTP/1.1\r\n\r\n")
	resp, _ := tc.readResponse(t, "GET")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	// an idle timeout closes silently: no 408, no bytes at all
	if err := tc.wait(t); err != nil {
		t.Fatalf("idle close reported %v", err)
	}
	if rest, _ := io.ReadAll(tc.br); len(rest) != 0 {
		t.Fatalf("idle close wrote %q", rest)
	}
}

func TestServeExpectContinue(t *testing.T) {
	tc := startDispatcher(t, echoHandler, dispatch.Config{})

	tc.send(t, "POST /up HTTP/1.1\r\nExpect: 100-continue\r\nContent-Length: 5\r\nConnection: close\r\n\r\n")
	resp, _ := tc.readResponse(t, "POST")
	if resp.StatusCode != http.StatusContinue {
		t.Fatalf("status %d, want 100", resp.StatusCode)
	}

	tc.send(t, "hello")
	resp, body := tc.readResponse(t, "POST")
	if resp.StatusCode != http.StatusOK || body != "hello" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	tc.wait(t)
}

func TestServeUnsupportedContentEncodingKeepsConnection(t *testing.T) {
	var dispatched []string
	h := func(ctx context.Context, req *model.Request) (*model.Response, error) {
		dispatched = append(dispatched, req.RequestURI)
		return echoHandler(ctx, req)
	}
	tc := startDispatcher(t, h, dispatch.Config{})

	tc.send(t, "POST /up HTTP/1.1\r\nContent-Encoding: br, gzip\r\nContent-Length: 2\r\n\r\nhi")
	resp, _ := tc.readResponse(t, "POST")
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status %d, want 415", resp.StatusCode)
	}

	// framing was intact, the connection survives for the next request
	tc.send(t, "GET /ok HTTP/1.1\r\nConnection: close\r\n\r\n")
	resp, _ = tc.readResponse(t, "GET")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("followup status %d", resp.StatusCode)
	}
	if len(dispatched) != 1 || dispatched[0] != "/ok" {
		t.Fatalf("handler saw %v", dispatched)
	}
	tc.wait(t)
}

func TestServeHandlerFailure(t *testing.T) {
	h := func(ctx context.Context, req *model.Request) (*model.Response, error) {
		return nil, errors.New("backend exploded")
	}
	tc := startDispatcher(t, h, dispatch.Config{})

	tc.send(t, "GET / HTTP/1.1\r\nConnection: close\r\n\r\n")
	resp, _ := tc.readResponse(t, "GET")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", resp.StatusCode)
	}
	if err := tc.wait(t); err != nil {
		t.Fatalf("serve returned %v", err)
	}
}

func TestServeHeadSuppressesBody(t *testing.T) {
	h := func(ctx context.Context, req *model.Request) (*model.Response, error) {
		return model.NewResponse(http.StatusOK, model.StringBody("hello")), nil
	}
	tc := startDispatcher(t, h, dispatch.Config{})

	tc.send(t, "HEAD / HTTP/1.1\r\nConnection: close\r\n\r\n")
	resp, body := tc.readResponse(t, "HEAD")
	if resp.StatusCode != http.StatusOK || resp.ContentLength != 5 {
		t.Fatalf("head %d cl %d", resp.StatusCode, resp.ContentLength)
	}
	if body != "" {
		t.Fatalf("head response carried body %q", body)
	}
	tc.wait(t)
	if rest, _ := io.ReadAll(tc.br); len(rest) != 0 {
		t.Fatalf("stray bytes after head response: %q", rest)
	}
}

func TestServeNegotiatesResponseCoding(t *testing.T) {
	payload := strings.Repeat("compressible response body ", 512)
	h := func(ctx context.Context, req *model.Request) (*model.Response, error) {
		return model.NewResponse(http.StatusOK, model.StringBody(payload)), nil
	}
	tc := startDispatcher(t, h, dispatch.Config{})

	tc.send(t, "GET / HTTP/1.1\r\nAccept-Encoding: gzip;q=0.5, br\r\nConnection: close\r\n\r\n")
	resp, body := tc.readResponse(t, "GET")
	if got := resp.Header.Get("Content-Encoding"); got != "br" {
		t.Fatalf("negotiated %q, want br", got)
	}
	decoded, err := io.ReadAll(brotli.NewReader(strings.NewReader(body)))
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != payload {
		t.Fatal("compressed body does not decode to the original")
	}
	tc.wait(t)
}

func TestServeLargeCodedResponseDefaultConfig(t *testing.T) {
	// above the inline threshold the compress loop runs on the default
	// process-wide pool and streams back chunked
	payload := strings.Repeat("large compressible payload ", 4096)
	h := func(ctx context.Context, req *model.Request) (*model.Response, error) {
		return model.NewResponse(http.StatusOK, model.StringBody(payload)), nil
	}
	tc := startDispatcher(t, h, dispatch.Config{})

	tc.send(t, "GET / HTTP/1.1\r\nAccept-Encoding: gzip\r\nConnection: close\r\n\r\n")
	resp, body := tc.readResponse(t, "GET")
	if got := resp.Header.Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("content-encoding %q, want gzip", got)
	}
	zr, err := gzip.NewReader(strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != payload {
		t.Fatal("compressed body does not decode to the original")
	}
	tc.wait(t)
}

func TestServeUpgradeHandsOffConnection(t *testing.T) {
	h := func(ctx context.Context, req *model.Request) (*model.Response, error) {
		resp := model.NewResponse(http.StatusSwitchingProtocols, model.NoBody())
		resp.ConnType = model.ConnUpgrade
		resp.Header.Set("Upgrade", req.Header.Get("Upgrade"))
		return resp, nil
	}
	tc := startDispatcher(t, h, dispatch.Config{})

	tc.send(t, "GET /ws HTTP/1.1\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n\r\n")
	tp := textproto.NewReader(tc.br)
	line, err := tp.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "HTTP/1.1 101 ") {
		t.Fatalf("status line %q", line)
	}
	mime, err := tp.ReadMIMEHeader()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.EqualFold(mime.Get("Connection"), "upgrade") {
		t.Fatalf("connection header %q", mime.Get("Connection"))
	}

	if err := tc.wait(t); err != nil {
		t.Fatalf("serve returned %v", err)
	}
	if !tc.d.Upgraded() {
		t.Fatal("dispatcher did not report the handoff")
	}

	// the raw stream stays open and belongs to the new protocol now
	go func() {
		buf := make([]byte, 4)
		if _, err := io.ReadFull(tc.d.Conn(), buf); err == nil {
			tc.d.Conn().Write(buf)
		}
	}()
	tc.send(t, "ping")
	buf := make([]byte, 4)
	if _, err := io.ReadFull(tc.br, buf); err != nil || string(buf) != "ping" {
		t.Fatalf("echo after upgrade: %q, %v", buf, err)
	}
}

func TestServeContextCancelStopsConnection(t *testing.T) {
	srv, cli := net.Pipe()
	defer cli.Close()
	d := dispatch.New(srv, echoHandler, dispatch.Config{DisconnectTimeout: -1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher ignored cancellation")
	}
	if d.State() != dispatch.StateClosed {
		t.Fatalf("state %v after serve", d.State())
	}
}
