package httpcodec

import (
	"errors"
	"testing"
)

func TestParseAllCases(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		expectError error
		expectN     int
		check       func(t *testing.T, req Request)
	}{
		{
			name:    "valid get request",
			raw:     "GET /index.html HTTP/1.1\r\nHost: localhost\r\nUser-Agent: test\r\n\r\n",
			expectN: 63,
			check: func(t *testing.T, req Request) {
				if req.Method != MethodGET {
					t.Error("wrong method")
				}
				if req.Path != "/index.html" {
					t.Error("wrong path")
				}
				if len(req.Headers) != 2 {
					t.Errorf("expected 2 headers, got %d", len(req.Headers))
				}
			},
		},
		{
			name: "valid post with body",
			raw:  "POST /api/v1 HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world",
			check: func(t *testing.T, req Request) {
				if string(req.Body) != "hello world" {
					t.Error("wrong body")
				}
			},
		},
		{
			name: "path with query",
			raw:  "GET /search?q=cats&n=2 HTTP/1.1\r\n\r\n",
			check: func(t *testing.T, req Request) {
				if req.Path != "/search" || req.Query != "q=cats&n=2" {
					t.Errorf("bad path/query: %q %q", req.Path, req.Query)
				}
			},
		},
		{
			name:        "incomplete request",
			raw:         "GET /partial HTTP/1.1\r\nHost: local",
			expectError: ErrIncomplete,
		},
		{
			name:        "malformed header",
			raw:         "GET / HTTP/1.1\r\nNoColonHeader\r\n\r\n",
			expectError: ErrProtocol,
		},
		{
			name:        "body incomplete",
			raw:         "POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\nsmall body",
			expectError: ErrIncomplete,
		},
		{
			name: "unknown method still parses",
			raw:  "PATCH /thing HTTP/1.1\r\n\r\n",
			check: func(t *testing.T, req Request) {
				if req.Method != MethodUnknown {
					t.Error("expected unknown method for PATCH")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, req, err := Parse([]byte(tt.raw))
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("expected error %v, got %v", tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n == 0 {
				t.Fatal("expected consumed > 0")
			}
			if tt.expectN != 0 && n != tt.expectN {
				t.Fatalf("expected %d bytes consumed, got %d", tt.expectN, n)
			}
			if tt.check != nil {
				tt.check(t, req)
			}
		})
	}
}

func TestParseCaseInsensitiveHeaderLookup(t *testing.T) {
	_, req, err := Parse([]byte("GET / HTTP/1.1\r\nContent-Type: application/json\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	v, ok := req.Header("content-type")
	if !ok || v != "application/json" {
		t.Fatalf("case-insensitive lookup failed: %q %v", v, ok)
	}
}

func TestKeepAliveDefault(t *testing.T) {
	_, req, err := Parse([]byte("GET / HTTP/1.1\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !req.KeepAlive() {
		t.Fatal("expected HTTP/1.1 default keep-alive")
	}

	_, req2, err := Parse([]byte("GET / HTTP/1.1\r\nConnection: close\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if req2.KeepAlive() {
		t.Fatal("expected Connection: close to disable keep-alive")
	}
}

func TestPipelinedRequestsParsedOneAtATime(t *testing.T) {
	raw := []byte("GET /1 HTTP/1.1\r\n\r\nGET /2 HTTP/1.1\r\n\r\n")
	n, req, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if req.Path != "/1" {
		t.Fatalf("expected /1, got %s", req.Path)
	}
	n2, req2, err := Parse(raw[n:])
	if err != nil {
		t.Fatal(err)
	}
	if req2.Path != "/2" {
		t.Fatalf("expected /2, got %s", req2.Path)
	}
	if n+n2 != len(raw) {
		t.Fatalf("did not consume whole buffer: %d+%d != %d", n, n2, len(raw))
	}
}

func TestMaxHeaderCountExceeded(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n"
	for i := 0; i < MaxHeaderCount+1; i++ {
		raw += "X-H: v\r\n"
	}
	raw += "\r\n"
	_, _, err := Parse([]byte(raw))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol for header overflow, got %v", err)
	}
}

func TestResponseBuildOrdersContentLengthLast(t *testing.T) {
	resp := NewResponse(200).SetHeader("X-Foo", "bar").SetBody([]byte("hi"))
	out := string(resp.Build())
	want := "HTTP/1.1 200 OK\r\nX-Foo: bar\r\nContent-Length: 2\r\n\r\nhi"
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestResponseUnknownStatusCode(t *testing.T) {
	resp := NewResponse(799).SetBody(nil)
	out := string(resp.Build())
	if out[:16] != "HTTP/1.1 799 Unk"[:16] {
		t.Fatalf("expected fallback reason phrase, got %q", out)
	}
}
