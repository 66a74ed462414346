package scraper

import "net/http"

// Request describes one fetch the transport layer should perform. The
// scheduler owns the request; the retry policy only ever touches RetryCount,
// and produces a fresh copy when a request is reissued.
type Request struct {
	URL        string
	Method     string
	Headers    http.Header
	Body       []byte
	RetryCount int
	Meta       map[string]string
}

// NewRequest builds a GET request with empty metadata.
func NewRequest(url string) *Request {
	return &Request{
		URL:    url,
		Method: http.MethodGet,
		Meta:   make(map[string]string),
	}
}

// Clone copies the request so a reissue never mutates the original.
func (r *Request) Clone() *Request {
	out := &Request{
		URL:        r.URL,
		Method:     r.Method,
		RetryCount: r.RetryCount,
	}
	if r.Headers != nil {
		out.Headers = r.Headers.Clone()
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	if r.Meta != nil {
		out.Meta = make(map[string]string, len(r.Meta))
		for k, v := range r.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// Response is a fetched page as handed to classification. It is read-only
// from the classifier's point of view.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Request    *Request
}

// ContentType returns the declared content type, or "" when absent.
func (r *Response) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}
