// Package spiders holds the per-site extraction glue. Each spider knows its
// start pages, how to pull {retailer, name, price, url} mappings out of a
// response, and where the next pages are. Selectors here are inherently
// brittle; everything with real invariants lives in scraper and pipeline.
package spiders

import (
	"bytes"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-retail-prices/scraper"
)

func document(resp *scraper.Response) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
}

// absoluteURL resolves href against the page the response came from.
func absoluteURL(resp *scraper.Response, href string) string {
	if href == "" {
		return ""
	}
	base, err := url.Parse(resp.Request.URL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
