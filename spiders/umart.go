package spiders

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-retail-prices/models"
	"github.com/aluiziolira/go-retail-prices/scraper"
)

// categoryQuery pins stock filtering, sale-volume ordering, and page size so
// listing pages stay comparable between runs.
const umartCategoryQuery = "?mystock=1-7-6&sort=salenum&order=ASC&pagesize=3"

// Umart starts at the PC-parts hub, fans out to every top category, and pages
// through each listing.
type Umart struct{}

func (Umart) Name() string     { return "umart" }
func (Umart) Retailer() string { return "Umart" }

func (Umart) AllowedDomains() []string {
	return []string{"www.umart.com.au", "umart.com.au"}
}

func (Umart) Start() []string {
	return []string{"https://www.umart.com.au/pc-parts-1"}
}

func (u Umart) Parse(resp *scraper.Response) ([]models.RawProduct, []string, error) {
	doc, err := document(resp)
	if err != nil {
		return nil, nil, err
	}

	goods := doc.Find("li.goods_info")
	if goods.Length() == 0 {
		return nil, u.categories(resp, doc), nil
	}

	var items []models.RawProduct
	goods.Each(func(_ int, card *goquery.Selection) {
		name := strings.TrimSpace(card.Find("span[itemprop=name]").First().Text())
		price := strings.TrimSpace(card.Find("span[itemprop=price]").First().Text())
		href, _ := card.Find("div.goods_name a").First().Attr("href")
		if name == "" {
			return
		}
		items = append(items, models.RawProduct{
			Retailer: u.Retailer(),
			Name:     name,
			Price:    price,
			URL:      absoluteURL(resp, href),
		})
	})

	var next []string
	doc.Find("ul.page li a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		if strings.TrimSpace(link.Text()) != ">" {
			return true
		}
		if href, ok := link.Attr("href"); ok {
			next = append(next, absoluteURL(resp, href))
		}
		return false
	})
	return items, next, nil
}

func (Umart) categories(resp *scraper.Response, doc *goquery.Document) []string {
	var next []string
	doc.Find("div.top_categories div.cat_name a").Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		next = append(next, absoluteURL(resp, href)+umartCategoryQuery)
	})
	return next
}
