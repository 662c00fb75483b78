package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/config"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/courier"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/fiscal"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/resolver"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/shopify"
)

func isNumericID(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/get-shopify-order/main.go <shopify_order_id>")
		fmt.Println("Example: go run cmd/get-shopify-order/main.go 6349083345108")
		os.Exit(1)
	}

	orderID := strings.TrimSpace(os.Args[1])
	if !isNumericID(orderID) {
		fmt.Fprintf(os.Stderr, "❌ Order ID must be numeric, got %q\n", orderID)
		os.Exit(1)
	}

	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Create Shopify client
	client := shopify.NewClient(cfg.Shopify, cfg.HTTPClientTimeout, logger)

	fmt.Printf("🔍 Fetching order from Shopify: %s\n\n", orderID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	order, err := client.FetchOrder(ctx, domain.OrderID(orderID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to fetch order: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Order found!\n\n")
	fmt.Printf("Order Information:\n")
	fmt.Printf("  Order Number: %s\n", order.DisplayNumber())
	fmt.Printf("  Order ID: %s\n", order.ID)
	fmt.Printf("  Financial Status: %s\n", order.FinancialStatus)
	fmt.Printf("  Fulfillment Status: %s\n", valueOr(order.FulfillmentStatus, "unfulfilled"))
	fmt.Printf("  Total: %s %s\n", order.TotalPrice.StringFixed(2), order.Currency)
	fmt.Printf("  Tags: %s\n", valueOr(order.Tags, "(none)"))
	fmt.Printf("  Confirmed: %t  Cancelled: %t\n", order.IsConfirmed(), order.IsCancelled())
	fmt.Printf("  Payment: %s (%s)\n", fiscal.DetectPaymentMethod(order.PaymentHints()), strings.Join(order.PaymentHints(), ", "))

	profile := resolver.New(logger).Resolve(order)
	fmt.Printf("\nResolved Shipping Profile:\n")
	printField("name", profile.Name, profile.Sources)
	printField("address", profile.Address, profile.Sources)
	printField("phone", profile.Phone, profile.Sources)
	printField("city", profile.City, profile.Sources)
	printField("province", profile.Province, profile.Sources)
	printField("email", profile.Email, profile.Sources)
	fmt.Printf("  courier province id: %d\n", courier.ProvinceID(profile.Province))

	if len(order.LineItems) > 0 {
		fmt.Printf("\nLine Items:\n")
		for i, item := range order.LineItems {
			fmt.Printf("  %d. %s (x%d)\n", i+1, item.DisplayName(), item.Quantity)
			if item.SKU != "" {
				fmt.Printf("     SKU: %s  ADG: %s\n", item.SKU, fiscal.ADGCode(item.SKU))
			}
			fmt.Printf("     Price: %s  Line total: %s\n", item.Price.StringFixed(2), item.Total().StringFixed(2))
		}
	}
}

func printField(name, value string, sources map[string]string) {
	fmt.Printf("  %-9s %s", name+":", valueOr(value, "(empty)"))
	if src := sources[name]; src != "" {
		fmt.Printf("  [%s]", src)
	}
	fmt.Println()
}

func valueOr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
