package spiders

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-retail-prices/models"
	"github.com/aluiziolira/go-retail-prices/scraper"
	jsoniter "github.com/json-iterator/go"
)

const bunningsBase = "https://www.bunnings.com.au"

// Bunnings reads the search results embedded in the Next.js payload instead
// of scraping the rendered grid. The page HTML changes often; the
// __NEXT_DATA__ blob does not.
type Bunnings struct{}

func (Bunnings) Name() string     { return "bunnings" }
func (Bunnings) Retailer() string { return "Bunnings" }

func (Bunnings) AllowedDomains() []string {
	return []string{"www.bunnings.com.au", "bunnings.com.au"}
}

func (Bunnings) Start() []string {
	return []string{bunningsBase + "/products/garden/garden-power-tools?page=1"}
}

func (b Bunnings) Parse(resp *scraper.Response) ([]models.RawProduct, []string, error) {
	doc, err := document(resp)
	if err != nil {
		return nil, nil, err
	}
	payload := doc.Find("script#__NEXT_DATA__").First().Text()
	if payload == "" {
		return nil, nil, fmt.Errorf("missing __NEXT_DATA__ payload in %s", resp.Request.URL)
	}

	results := jsoniter.Get([]byte(payload),
		"props", "pageProps", "initialState", "global", "searchResults", "data", "results")
	if results.ValueType() != jsoniter.ArrayValue {
		return nil, nil, fmt.Errorf("unexpected searchResults shape in %s", resp.Request.URL)
	}

	var items []models.RawProduct
	for i := 0; i < results.Size(); i++ {
		raw := results.Get(i, "raw")
		name := strings.TrimSpace(raw.Get("name").ToString())
		if name == "" {
			continue
		}
		items = append(items, models.RawProduct{
			Retailer: b.Retailer(),
			Name:     name,
			Price:    "$" + strconv.FormatFloat(raw.Get("price").ToFloat64(), 'f', -1, 64),
			URL:      bunningsBase + raw.Get("productroutingurl").ToString(),
		})
	}
	return items, nil, nil
}
