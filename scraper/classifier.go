package scraper

import (
	"bytes"
	"strings"

	"github.com/aluiziolira/go-retail-prices/config"
)

// VerdictKind is the outcome of classifying a single response.
type VerdictKind int

const (
	// VerdictAccept means the response looks like a real page.
	VerdictAccept VerdictKind = iota
	// VerdictSoftBanned means the site returned a block/challenge page,
	// usually with a 200 status.
	VerdictSoftBanned
	// VerdictEmptyPayload means a JSON endpoint returned a body too short to
	// hold a result set.
	VerdictEmptyPayload
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictAccept:
		return "accept"
	case VerdictSoftBanned:
		return "soft_ban"
	case VerdictEmptyPayload:
		return "empty_payload"
	default:
		return "unknown"
	}
}

// Verdict carries the classification outcome and, for non-accept kinds, the
// reason worth logging (the matched signature, or a short description).
type Verdict struct {
	Kind   VerdictKind
	Reason string
}

// Accepted reports whether the response should flow on to extraction.
func (v Verdict) Accepted() bool {
	return v.Kind == VerdictAccept
}

// Classifier flags soft bans and empty JSON payloads. It is a pure function
// of response content and must run exactly once per response, before
// extraction.
type Classifier struct {
	signatures  [][]byte
	minJSONBody int
}

// NewClassifier builds a classifier from the configured ban signatures and
// minimum viable JSON body length.
func NewClassifier(cfg *config.Config) *Classifier {
	signatures := make([][]byte, 0, len(cfg.BanSignatures))
	for _, sig := range cfg.BanSignatures {
		if sig != "" {
			signatures = append(signatures, []byte(sig))
		}
	}
	return &Classifier{
		signatures:  signatures,
		minJSONBody: cfg.MinJSONBody,
	}
}

// Classify inspects a fetched response. Ban signatures are checked first, in
// order, regardless of status code; the first match wins.
func (c *Classifier) Classify(resp *Response) Verdict {
	for _, sig := range c.signatures {
		if bytes.Contains(resp.Body, sig) {
			return Verdict{Kind: VerdictSoftBanned, Reason: string(sig)}
		}
	}
	if strings.Contains(resp.ContentType(), "application/json") && len(resp.Body) < c.minJSONBody {
		return Verdict{Kind: VerdictEmptyPayload, Reason: "short or missing json body"}
	}
	return Verdict{Kind: VerdictAccept}
}
