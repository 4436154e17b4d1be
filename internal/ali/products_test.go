package ali

import (
	"testing"

	"hapshi-bot/internal/probe"
)

func decode(t *testing.T, body string) any {
	t.Helper()
	doc, err := probe.Decode([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return doc
}

func TestExtractProductsArrayAtNestedPath(t *testing.T) {
	doc := decode(t, `{"aliexpress_affiliate_product_query_response":{"resp_result":{"result":{"products":{"product":[
		{"product_id":1005001,"product_title":"Charger 65W","target_sale_price":"12.40","target_sale_price_currency":"USD",
		 "evaluate_rate":"96.5%","lastest_volume":1200,"product_main_image_url":"https://img/1.jpg",
		 "product_detail_url":"https://www.aliexpress.com/item/1005001.html","shop_name":"Anker Store"},
		"not-an-object"
	]}}}}}`)

	products := ExtractProducts(doc)
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	p := products[0]
	if p.ID != "1005001" || p.Title != "Charger 65W" {
		t.Fatalf("unexpected identity %+v", p)
	}
	if p.Price() != 12.4 || p.CurrencyHint != "USD" {
		t.Fatalf("unexpected price %q/%q", p.RawPrice, p.CurrencyHint)
	}
	if p.Rating != 96.5 || p.Orders != 1200 {
		t.Fatalf("unexpected rating/orders %v/%v", p.Rating, p.Orders)
	}
	if p.DetailURL == "" || p.ImageURL == "" || p.ShopName != "Anker Store" {
		t.Fatalf("unexpected urls %+v", p)
	}
}

func TestExtractProductsObjectWithProductField(t *testing.T) {
	doc := decode(t, `{"resp_result":{"result":{"products":{"product":[{"title":"A","sale_price":"5"},{"title":"B"}]}}}}`)
	products := ExtractProducts(doc)
	if len(products) != 2 || products[0].Title != "A" || products[1].Title != "B" {
		t.Fatalf("unexpected products %+v", products)
	}
	if products[1].RawPrice != "" || products[1].Price() != 0 {
		t.Fatalf("missing price must default to zero, got %q", products[1].RawPrice)
	}
}

func TestExtractProductsBareArrayAtFallbackPath(t *testing.T) {
	doc := decode(t, `{"resp_result":{"result":{"products":[{"title":"bare","sales":"1,024"}]}}}`)
	products := ExtractProducts(doc)
	if len(products) != 1 || products[0].Orders != 1024 {
		t.Fatalf("unexpected products %+v", products)
	}
}

func TestExtractProductsNoMatch(t *testing.T) {
	for _, body := range []string{`{}`, `{"result":{"products":"none"}}`, `[]`, `"text"`, `null`} {
		products := ExtractProducts(decode(t, body))
		if products == nil || len(products) != 0 {
			t.Fatalf("expected empty slice for %s, got %#v", body, products)
		}
	}
}

func TestExtractProductsUnparsableNumbersDefaultToZero(t *testing.T) {
	doc := decode(t, `{"result":{"products":{"product":[{"title":"x","sale_price":"n/a","evaluate_rate":{"v":1},"volume":"many"}]}}}`)
	products := ExtractProducts(doc)
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	p := products[0]
	if p.Price() != 0 || p.Rating != 0 || p.Orders != 0 {
		t.Fatalf("expected zeros, got %+v", p)
	}
}

func TestExtractLinksMatchesBySourceValue(t *testing.T) {
	doc := decode(t, `{"aliexpress_affiliate_link_generate_response":{"resp_result":{"result":{"promotion_links":{"promotion_link":[
		{"source_value":"https://b","promotion_link":"https://s.click/b"},
		{"source_value":"https://a","promotion_link":"https://s.click/a"},
		{"source_value":"https://c"}
	]}}}}}`)
	links := ExtractLinks(doc)
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %v", links)
	}
	if links["https://a"] != "https://s.click/a" || links["https://b"] != "https://s.click/b" {
		t.Fatalf("links matched by position: %v", links)
	}
}
