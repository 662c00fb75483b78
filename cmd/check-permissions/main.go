package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/config"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/fiscal"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/shopify"
)

func main() {
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

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	failed := false

	// Create Shopify client
	client := shopify.NewClient(cfg.Shopify, cfg.HTTPClientTimeout, logger)

	fmt.Println("1. Checking Shopify access scopes...")
	scopes, err := client.AccessScopes(ctx)
	if err != nil {
		failed = true
		fmt.Printf("   ❌ Failed: %v\n", err)
	} else {
		fmt.Printf("   Granted: %s\n", strings.Join(scopes, ", "))
		if missing := shopify.MissingScopes(scopes); len(missing) > 0 {
			failed = true
			fmt.Printf("   ❌ Missing: %s\n", strings.Join(missing, ", "))
		} else {
			fmt.Println("   ✅ All required scopes granted")
		}
	}

	fmt.Println("\n2. Checking fiscal receipt service login...")
	if !cfg.Fiscal.Enabled() {
		fmt.Println("   ⚠️  FISCAL_BASE_URL not set, receipts are disabled")
		if cfg.RequireFiscalReceipt {
			failed = true
			fmt.Println("   ❌ REQUIRE_FISCAL_RECEIPT=true but no receipt service is configured")
		}
	} else {
		fc := fiscal.NewClient(fiscal.Config{
			BaseURL:     cfg.Fiscal.BaseURL,
			Username:    cfg.Fiscal.Username,
			Password:    cfg.Fiscal.Password,
			PartnerTIN:  cfg.Fiscal.PartnerTIN,
			Dep:         cfg.Fiscal.Dep,
			TokenHeader: cfg.Fiscal.TokenHeader,
			Timeout:     cfg.HTTPClientTimeout,
		}, nil, logger)
		if _, err := fc.Authenticate(ctx); err != nil {
			failed = true
			fmt.Printf("   ❌ Failed: %v\n", err)
		} else {
			fmt.Println("   ✅ Logged in")
		}
	}

	fmt.Println("\n📋 Required Shopify scopes for the relay:")
	for _, s := range shopify.RequiredScopes {
		fmt.Printf("   - %s\n", s)
	}
	fmt.Println("\nTo add scopes:")
	fmt.Println("   1. Go to Shopify Admin → Settings → Apps and sales channels")
	fmt.Println("   2. Click 'Develop apps' → Your app")
	fmt.Println("   3. Click 'Configure Admin API scopes'")
	fmt.Println("   4. Add the required scopes")
	fmt.Println("   5. Click 'Save' then 'Install app' (or reinstall)")

	if failed {
		os.Exit(1)
	}
}
