package fiscal

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/textutil"
)

const (
	// MaxGoodNameLength is the receipt service's product name limit
	MaxGoodNameLength = 50
	// MaxUniqueCodeLength is the receipt service's uniqueCode limit
	MaxUniqueCodeLength = 30
	// DefaultADGCode is the tax classification used when no SKU prefix matches (apparel)
	DefaultADGCode = "6109"

	defaultGoodName = "Online Order Items"
	unitPieces      = "pcs"
	// discountType 1 is a percentage discount; every line carries a zero discount
	discountTypePercent = 1
)

// adgCodes maps upper-case SKU prefixes to ADG tax classification codes. Longest prefix wins.
var adgCodes = map[string]string{
	"TSH":  "6109",
	"TEE":  "6109",
	"HOOD": "6110",
	"SWT":  "6110",
	"BAG":  "4202",
	"MUG":  "6912",
	"CUP":  "6912",
	"BOOK": "4901",
	"PST":  "4911",
	"ACC":  "7117",
	"CAP":  "6505",
}

// ADGCode derives the tax classification code from a SKU prefix
func ADGCode(sku string) string {
	s := strings.ToUpper(strings.TrimSpace(sku))
	best, code := 0, DefaultADGCode
	for prefix, c := range adgCodes {
		if len(prefix) > best && strings.HasPrefix(s, prefix) {
			best, code = len(prefix), c
		}
	}
	return code
}

// Product is one receipt line as the receipt service expects it
type Product struct {
	ADGCode          string      `json:"adgCode"`
	GoodCode         string      `json:"goodCode"`
	GoodName         string      `json:"goodName"`
	Quantity         json.Number `json:"quantity"`
	Unit             string      `json:"unit"`
	Price            json.Number `json:"price"`
	Discount         json.Number `json:"discount"`
	DiscountType     int         `json:"discountType"`
	ReceiptProductID int         `json:"receiptProductId"`
	Dep              int         `json:"dep"`
}

// PrintRequest is the print-receipt payload
type PrintRequest struct {
	Products         []Product   `json:"products"`
	CashAmount       json.Number `json:"cashAmount"`
	CardAmount       json.Number `json:"cardAmount"`
	PartialAmount    json.Number `json:"partialAmount"`
	PrePaymentAmount json.Number `json:"prePaymentAmount"`
	PartnerTin       string      `json:"partnerTin,omitempty"`
	UniqueCode       string      `json:"uniqueCode"`
}

// ReverseRequest is the reverse-receipt payload
type ReverseRequest struct {
	HistoryID  any         `json:"historyId"`
	Products   []Product   `json:"products"`
	CashAmount json.Number `json:"cashAmount"`
	CardAmount json.Number `json:"cardAmount"`
}

func amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// buildProducts returns one line per item (price is the extended line amount) and their sum.
// An order without items gets a single line carrying fallbackTotal.
func buildProducts(items []domain.LineItem, fallbackTotal decimal.Decimal, dep int) ([]Product, decimal.Decimal) {
	products := make([]Product, 0, len(items))
	total := decimal.Zero
	for i, item := range items {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		name := textutil.Truncate(item.DisplayName(), MaxGoodNameLength)
		if name == "" {
			name = defaultGoodName
		}
		line := item.Total()
		total = total.Add(line)
		products = append(products, Product{
			ADGCode:          ADGCode(item.SKU),
			GoodCode:         goodCode(item, i),
			GoodName:         name,
			Quantity:         json.Number(decimal.NewFromInt(int64(qty)).StringFixed(3)),
			Unit:             unitPieces,
			Price:            amount(line),
			Discount:         amount(decimal.Zero),
			DiscountType:     discountTypePercent,
			ReceiptProductID: i,
			Dep:              dep,
		})
	}
	if len(products) == 0 {
		total = fallbackTotal
		products = append(products, Product{
			ADGCode:          DefaultADGCode,
			GoodCode:         "ORDER",
			GoodName:         defaultGoodName,
			Quantity:         json.Number(decimal.NewFromInt(1).StringFixed(3)),
			Unit:             unitPieces,
			Price:            amount(fallbackTotal),
			Discount:         amount(decimal.Zero),
			DiscountType:     discountTypePercent,
			ReceiptProductID: 0,
			Dep:              dep,
		})
	}
	return products, total
}

func goodCode(item domain.LineItem, index int) string {
	if sku := strings.TrimSpace(item.SKU); sku != "" {
		return sku
	}
	if item.ID != 0 {
		return "ITEM-" + strconv.FormatInt(item.ID, 10)
	}
	return "ITEM-" + strconv.Itoa(index+1)
}

// PaymentMethod is how the customer paid, as far as the receipt is concerned
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

// DetectPaymentMethod reads gateway hints: cash-on-delivery and manual gateways are cash,
// everything else (including no hint) is card.
func DetectPaymentMethod(hints []string) PaymentMethod {
	for _, h := range hints {
		h = strings.ToLower(h)
		if strings.Contains(h, "cash") || strings.Contains(h, "cod") || strings.Contains(h, "manual") {
			return PaymentCash
		}
	}
	return PaymentCard
}

// split assigns the whole total to the cash or card amount
func split(total decimal.Decimal, method PaymentMethod) (cash, card decimal.Decimal) {
	if method == PaymentCash {
		return total, decimal.Zero
	}
	return decimal.Zero, total
}

// newUniqueCode builds a per-receipt code: order ID prefix plus a random suffix, at most 30 chars
func newUniqueCode(orderID domain.OrderID) string {
	prefix := textutil.Truncate(orderID.String(), 12)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	code := prefix + "-" + suffix
	if len(code) > MaxUniqueCodeLength {
		code = code[:MaxUniqueCodeLength]
	}
	return code
}
