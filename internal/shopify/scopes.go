package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// RequiredScopes are the Admin API scopes the relay uses: REST order reads, tag and note
// updates, and fulfillment creation.
var RequiredScopes = []string{
	"read_orders",
	"write_orders",
	"read_merchant_managed_fulfillment_orders",
	"write_merchant_managed_fulfillment_orders",
}

// AccessScopes returns the scopes granted to the access token
func (c *Client) AccessScopes(ctx context.Context) ([]string, error) {
	resp, err := c.Execute(ctx, AccessScopesQuery, nil, true)
	if err != nil {
		return nil, err
	}
	var data accessScopesResponse
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access scopes: %w", err)
	}
	scopes := make([]string, 0, len(data.CurrentAppInstallation.AccessScopes))
	for _, s := range data.CurrentAppInstallation.AccessScopes {
		scopes = append(scopes, s.Handle)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// MissingScopes returns the required scopes absent from granted. A write scope implies its read scope.
func MissingScopes(granted []string) []string {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
		if len(s) > 6 && s[:6] == "write_" {
			have["read_"+s[6:]] = true
		}
	}
	var missing []string
	for _, s := range RequiredScopes {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
