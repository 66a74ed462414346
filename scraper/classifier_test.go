package scraper

import (
	"net/http"
	"testing"

	"github.com/aluiziolira/go-retail-prices/config"
)

func jsonResponse(status int, body string) *Response {
	return &Response{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
		Body:       []byte(body),
		Request:    NewRequest("http://example.test/api"),
	}
}

func htmlResponse(status int, body string) *Response {
	return &Response{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(body),
		Request:    NewRequest("http://example.test/page"),
	}
}

func TestClassifyBanSignatures(t *testing.T) {
	c := NewClassifier(config.DefaultConfig())

	tests := []struct {
		name string
		resp *Response
		want VerdictKind
	}{
		{name: "access denied page", resp: htmlResponse(200, "<html>Access Denied</html>"), want: VerdictSoftBanned},
		{name: "interstitial challenge", resp: htmlResponse(200, "<title>Pardon Our Interruption</title>"), want: VerdictSoftBanned},
		{name: "challenge platform script", resp: htmlResponse(200, `<script src="/cdn-cgi/challenge-platform/h.js">`), want: VerdictSoftBanned},
		{name: "robots warning", resp: htmlResponse(200, "automated access is prohibited"), want: VerdictSoftBanned},
		{name: "signature wins over error status", resp: htmlResponse(503, "Access Denied"), want: VerdictSoftBanned},
		{name: "signature inside json body", resp: jsonResponse(200, `{"error": "Access Denied, try later"}`), want: VerdictSoftBanned},
		{name: "ordinary page", resp: htmlResponse(200, "<html><body>catalog</body></html>"), want: VerdictAccept},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := c.Classify(tt.resp)
			if verdict.Kind != tt.want {
				t.Fatalf("Classify() = %s, want %s", verdict.Kind, tt.want)
			}
			if tt.want == VerdictSoftBanned && verdict.Reason == "" {
				t.Fatalf("soft-ban verdict should carry the matched signature")
			}
		})
	}
}

func TestClassifyEmptyJSONPayload(t *testing.T) {
	c := NewClassifier(config.DefaultConfig())

	tests := []struct {
		name string
		resp *Response
		want VerdictKind
	}{
		{name: "empty body", resp: jsonResponse(200, ""), want: VerdictEmptyPayload},
		{name: "bare object", resp: jsonResponse(200, "{}"), want: VerdictEmptyPayload},
		{name: "nine bytes", resp: jsonResponse(200, `{"a":"b"}`), want: VerdictEmptyPayload},
		{name: "ten bytes", resp: jsonResponse(200, `{"a":"bc"}`), want: VerdictAccept},
		{name: "real payload", resp: jsonResponse(200, `{"hits":[{"name":"x"}]}`), want: VerdictAccept},
		{name: "short html body is fine", resp: htmlResponse(200, "ok"), want: VerdictAccept},
		{name: "missing content type", resp: &Response{StatusCode: 200, Body: []byte("{}"), Request: NewRequest("http://example.test")}, want: VerdictAccept},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if verdict := c.Classify(tt.resp); verdict.Kind != tt.want {
				t.Fatalf("Classify() = %s, want %s", verdict.Kind, tt.want)
			}
		})
	}
}
