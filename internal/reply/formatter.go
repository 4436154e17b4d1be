package reply

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"hapshi-bot/internal/money"
	"hapshi-bot/internal/rank"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	titleMax = 110
	shopMax  = 60
)

// Texts holds the fixed phrases of a reply.
type Texts struct {
	SingleHeader  string
	MultiHeader   string
	PriceLabel    string
	CurrencyLabel string
	OrdersSuffix  string
	RatingLabel   string
	LinkLabel     string
}

// HebrewTexts is the default reply vocabulary.
var HebrewTexts = Texts{
	SingleHeader:  "🔥 מצאתי לך מוצר מומלץ מאלי אקספרס",
	MultiHeader:   "🔥 מצאתי לך כמה מוצרים מומלצים מאלי אקספרס",
	PriceLabel:    "💰 מחיר:",
	CurrencyLabel: "שקלים",
	OrdersSuffix:  "נרכשו",
	RatingLabel:   "⭐ דירוג:",
	LinkLabel:     "🔗 קישור לרכישה:",
}

// Formatter renders ranked products into chat message bodies.
type Formatter struct {
	texts     Texts
	converter money.Converter
	printer   *message.Printer
}

// New creates a formatter. Zero-value texts select HebrewTexts.
func New(converter money.Converter, texts Texts, lang language.Tag) *Formatter {
	if texts == (Texts{}) {
		texts = HebrewTexts
	}
	return &Formatter{
		texts:     texts,
		converter: converter,
		printer:   message.NewPrinter(lang),
	}
}

// RenderSingle renders one product followed by its purchase link.
func (f *Formatter) RenderSingle(sp rank.Scored, link string) string {
	lines := []string{f.texts.SingleHeader, ""}
	lines = append(lines, f.productLines(sp)...)
	if link = strings.TrimSpace(link); link != "" {
		lines = append(lines, "", f.texts.LinkLabel, link)
	}
	return strings.Join(lines, "\n")
}

// RenderMulti renders a numbered list. links maps a detail URL to its
// affiliate URL; absent keys fall back to the detail URL itself.
func (f *Formatter) RenderMulti(products []rank.Scored, links map[string]string) string {
	lines := []string{f.texts.MultiHeader}
	for i, sp := range products {
		lines = append(lines, "")
		block := f.productLines(sp)
		if len(block) > 0 {
			block[0] = strconv.Itoa(i+1) + ". " + block[0]
		} else {
			block = []string{strconv.Itoa(i+1) + "."}
		}
		lines = append(lines, block...)
		if link := LinkFor(sp, links); link != "" {
			lines = append(lines, "🔗 "+link)
		}
	}
	return strings.Join(lines, "\n")
}

// LinkFor picks the resolved link for sp, or its raw detail URL.
func LinkFor(sp rank.Scored, links map[string]string) string {
	src := strings.TrimSpace(sp.Product.DetailURL)
	if link, ok := links[src]; ok && strings.TrimSpace(link) != "" {
		return link
	}
	return src
}

// FormatPrice converts raw to the display currency, "" when unusable.
func (f *Formatter) FormatPrice(raw, currencyHint string) string {
	amount, ok := f.converter.Convert(raw, currencyHint)
	if !ok {
		return ""
	}
	return strconv.FormatInt(amount, 10) + " " + f.texts.CurrencyLabel
}

func (f *Formatter) productLines(sp rank.Scored) []string {
	p := sp.Product
	var lines []string
	if title := Shorten(p.Title, titleMax); title != "" {
		lines = append(lines, "🛍️ "+title)
	}
	if shop := Shorten(p.ShopName, shopMax); shop != "" {
		lines = append(lines, "🏪 "+shop)
	}
	if price := f.FormatPrice(p.RawPrice, p.CurrencyHint); price != "" {
		lines = append(lines, f.texts.PriceLabel+" "+price)
	}
	if sp.Orders > 0 {
		lines = append(lines, "📦 "+f.printer.Sprintf("%d", int64(math.Round(sp.Orders)))+" "+f.texts.OrdersSuffix)
	}
	if sp.Rating > 0 {
		lines = append(lines, f.texts.RatingLabel+" "+strconv.FormatFloat(sp.Rating, 'f', -1, 64)+"⭐")
	}
	return lines
}

// Shorten collapses whitespace and cuts s to max runes, marking the cut
// with an ellipsis.
func Shorten(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}
