package httpcodec

import "strconv"

// reasonPhrases maps status codes to reason phrases, mirroring the teacher's
// statusTable; codes not listed get "Unknown".
var reasonPhrases = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	413: "Payload Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

func reasonPhrase(code int) string {
	if r, ok := reasonPhrases[code]; ok {
		return r
	}
	return "Unknown"
}

// Response accumulates a status, headers (in registration order) and a body.
// Content-Length is always computed and injected last, per spec.
type Response struct {
	Code    int
	Headers []Header
	Body    []byte
}

// NewResponse starts a response with a status code.
func NewResponse(code int) *Response {
	return &Response{Code: code}
}

// SetHeader appends a header line. Order of calls is the order on the wire,
// except Content-Length which is always emitted last regardless of call order.
func (r *Response) SetHeader(key, val string) *Response {
	r.Headers = append(r.Headers, Header{Key: key, Val: val})
	return r
}

// SetBody sets the response body.
func (r *Response) SetBody(body []byte) *Response {
	r.Body = body
	return r
}

// Build serializes status line, headers, Content-Length, blank line, body.
func (r *Response) Build() []byte {
	out := make([]byte, 0, 256+len(r.Body))
	out = append(out, "HTTP/1.1 "...)
	out = append(out, strconv.Itoa(r.Code)...)
	out = append(out, ' ')
	out = append(out, reasonPhrase(r.Code)...)
	out = append(out, "\r\n"...)

	for _, h := range r.Headers {
		out = append(out, h.Key...)
		out = append(out, ": "...)
		out = append(out, h.Val...)
		out = append(out, "\r\n"...)
	}

	out = append(out, "Content-Length: "...)
	out = append(out, strconv.Itoa(len(r.Body))...)
	out = append(out, "\r\n\r\n"...)
	out = append(out, r.Body...)
	return out
}
