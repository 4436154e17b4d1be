package ali

import (
	"hapshi-bot/internal/money"
	"hapshi-bot/internal/probe"
)

// Product is one normalized search hit. Any field may be empty or zero.
type Product struct {
	ID           string  `json:"id,omitempty"`
	Title        string  `json:"title,omitempty"`
	RawPrice     string  `json:"raw_price,omitempty"`
	CurrencyHint string  `json:"currency_hint,omitempty"`
	Rating       float64 `json:"rating,omitempty"`
	Orders       float64 `json:"orders,omitempty"`
	ImageURL     string  `json:"image_url,omitempty"`
	DetailURL    string  `json:"detail_url,omitempty"`
	ShopName     string  `json:"shop_name,omitempty"`
}

// Price parses RawPrice leniently, 0 when unusable.
func (p Product) Price() float64 {
	return money.Loose(p.RawPrice)
}

// productPaths lists where the product array has been observed, most
// specific first. Each hit is either the array itself or an object with a
// "product" array.
var productPaths = []probe.Path{
	{"aliexpress_affiliate_product_query_response", "resp_result", "result", "products", "product"},
	{"aliexpress_affiliate_product_query_response", "result", "products", "product"},
	{"resp_result", "result", "products", "product"},
	{"result", "products", "product"},
	{"aliexpress_affiliate_product_query_response", "resp_result", "result", "products"},
	{"resp_result", "result", "products"},
}

var linkPaths = []probe.Path{
	{"aliexpress_affiliate_link_generate_response", "resp_result", "result", "promotion_links", "promotion_link"},
	{"resp_result", "result", "promotion_links", "promotion_link"},
	{"aliexpress_affiliate_link_generate_response", "resp_result", "result", "promotion_links"},
	{"resp_result", "result", "promotion_links"},
}

// priceFields pairs each price key with the currency key describing it.
var priceFields = [][2]string{
	{"target_sale_price", "target_sale_price_currency"},
	{"sale_price", "sale_price_currency"},
	{"original_price", "original_price_currency"},
	{"target_original_price", "target_original_price_currency"},
}

// ExtractProducts locates and normalizes the product list in doc. It never
// fails: when no known path matches it returns an empty slice.
func ExtractProducts(doc any) []Product {
	for _, path := range productPaths {
		val, ok := probe.Lookup(doc, path)
		if !ok {
			continue
		}
		items, ok := listAt(val, "product")
		if !ok {
			continue
		}
		objs := probe.Objects(items)
		products := make([]Product, 0, len(objs))
		for _, obj := range objs {
			products = append(products, normalizeProduct(obj))
		}
		return products
	}
	return []Product{}
}

// ExtractLinks maps source_value to promotion_link. Entries are matched by
// their explicit source field, never by position.
func ExtractLinks(doc any) map[string]string {
	out := map[string]string{}
	for _, path := range linkPaths {
		val, ok := probe.Lookup(doc, path)
		if !ok {
			continue
		}
		items, ok := listAt(val, "promotion_link")
		if !ok {
			continue
		}
		for _, obj := range probe.Objects(items) {
			src := probe.Field(obj, "source_value")
			link := probe.Field(obj, "promotion_link")
			if src != "" && link != "" {
				out[src] = link
			}
		}
		return out
	}
	return out
}

func listAt(val any, field string) (any, bool) {
	switch v := val.(type) {
	case []any:
		return v, true
	case map[string]any:
		if arr, ok := v[field].([]any); ok {
			return arr, true
		}
	}
	return nil, false
}

func normalizeProduct(obj map[string]any) Product {
	p := Product{
		ID:        probe.Field(obj, "product_id", "id"),
		Title:     probe.Field(obj, "product_title", "title", "subject"),
		Rating:    money.Loose(probe.Field(obj, "evaluate_rate", "score", "rating")),
		Orders:    money.Loose(probe.Field(obj, "sales", "volume", "orders", "lastest_volume")),
		ImageURL:  probe.Field(obj, "product_main_image_url", "main_image_url", "image_url"),
		DetailURL: probe.Field(obj, "product_detail_url", "product_url", "url"),
		ShopName:  probe.Field(obj, "shop_name", "store_name"),
	}
	for _, pair := range priceFields {
		if raw := probe.Field(obj, pair[0]); raw != "" {
			p.RawPrice = raw
			p.CurrencyHint = probe.Field(obj, pair[1])
			break
		}
	}
	return p
}
