package spiders

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-retail-prices/models"
	"github.com/aluiziolira/go-retail-prices/scraper"
)

// PLE scrapes the server-rendered product grid on ple.com.au.
type PLE struct{}

func (PLE) Name() string     { return "ple" }
func (PLE) Retailer() string { return "PLE Computers" }

func (PLE) AllowedDomains() []string {
	return []string{"www.ple.com.au", "ple.com.au"}
}

func (PLE) Start() []string {
	return []string{"https://www.ple.com.au/Categories/296/Monitors"}
}

func (p PLE) Parse(resp *scraper.Response) ([]models.RawProduct, []string, error) {
	doc, err := document(resp)
	if err != nil {
		return nil, nil, err
	}

	var items []models.RawProduct
	doc.Find("div.itemGrid2TileStandard").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("div.itemGrid2TileStandardDescription a").First()
		name := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		price := strings.TrimSpace(card.Find("div.itemGrid2TileStandardPrice").First().Text())
		if name == "" {
			return
		}
		items = append(items, models.RawProduct{
			Retailer: p.Retailer(),
			Name:     name,
			Price:    price,
			URL:      absoluteURL(resp, href),
		})
	})

	var next []string
	if href, ok := doc.Find("a.pageNext").First().Attr("href"); ok {
		next = append(next, absoluteURL(resp, href))
	}
	return items, next, nil
}
