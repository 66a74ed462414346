package spiders

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-retail-prices/models"
	"github.com/aluiziolira/go-retail-prices/scraper"
)

// SCA pages through a Supercheap Auto category grid.
type SCA struct{}

func (SCA) Name() string     { return "sca" }
func (SCA) Retailer() string { return "Supercheap Auto" }

func (SCA) AllowedDomains() []string {
	return []string{"www.supercheapauto.com.au", "supercheapauto.com.au"}
}

func (SCA) Start() []string {
	return []string{"https://www.supercheapauto.com.au/4wd-recovery?sz=60"}
}

func (s SCA) Parse(resp *scraper.Response) ([]models.RawProduct, []string, error) {
	doc, err := document(resp)
	if err != nil {
		return nil, nil, err
	}

	var items []models.RawProduct
	doc.Find("li.grid-tile").Each(func(_ int, tile *goquery.Selection) {
		link := tile.Find("div.product-name a").First()
		title, _ := link.Attr("title")
		// The accessibility title carries a "Go to Product: " prefix.
		name := strings.TrimSpace(strings.TrimPrefix(title, "Go to Product: "))
		href, _ := link.Attr("href")
		price := strings.TrimSpace(tile.Find("span.the-price").First().Text())
		if name == "" {
			return
		}
		items = append(items, models.RawProduct{
			Retailer: s.Retailer(),
			Name:     name,
			Price:    price,
			URL:      absoluteURL(resp, href),
		})
	})

	var next []string
	if href, ok := doc.Find("a.page-next").First().Attr("href"); ok {
		next = append(next, absoluteURL(resp, href))
	}
	return items, next, nil
}
