package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/textutil"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

// OrderGID returns the Admin GraphQL global ID for a numeric order ID
func OrderGID(id domain.OrderID) string {
	s := id.String()
	if strings.HasPrefix(s, "gid://") {
		return s
	}
	return "gid://shopify/Order/" + s
}

// FetchOrder returns the REST order snapshot (same shape as webhook payloads)
func (c *Client) FetchOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	var out struct {
		Order *domain.Order `json:"order"`
	}
	err := c.getJSON(ctx, "fetch order", c.adminPath("orders/"+id.String()+".json"), &out)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, &errors.ErrNotFound{Resource: "order", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to fetch order %s: %w", id, err)
	}
	if out.Order == nil {
		return nil, &errors.ErrNotFound{Resource: "order", ID: id.String()}
	}
	return out.Order, nil
}

// UpdateTags adds and removes order tags. Both mutations are idempotent.
func (c *Client) UpdateTags(ctx context.Context, id domain.OrderID, add, remove []string) error {
	if tags := nonBlank(add); len(tags) > 0 {
		if err := c.tagsMutation(ctx, TagsAddMutation, id, tags); err != nil {
			return fmt.Errorf("failed to add tags to order %s: %w", id, err)
		}
	}
	if tags := nonBlank(remove); len(tags) > 0 {
		if err := c.tagsMutation(ctx, TagsRemoveMutation, id, tags); err != nil {
			return fmt.Errorf("failed to remove tags from order %s: %w", id, err)
		}
	}
	c.logger.Debug("Order tags updated",
		zap.String("order_id", id.String()),
		zap.Strings("added", add),
		zap.Strings("removed", remove),
	)
	return nil
}

func (c *Client) tagsMutation(ctx context.Context, mutation string, id domain.OrderID, tags []string) error {
	resp, err := c.Execute(ctx, mutation, map[string]interface{}{
		"id":   OrderGID(id),
		"tags": tags,
	}, true)
	if err != nil {
		return err
	}
	var data tagsMutationResponse
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("failed to unmarshal tags response: %w", err)
	}
	switch {
	case data.TagsAdd != nil:
		return userErrorsToError("tagsAdd", data.TagsAdd.UserErrors)
	case data.TagsRemove != nil:
		return userErrorsToError("tagsRemove", data.TagsRemove.UserErrors)
	}
	return nil
}

// CreateFulfillment fulfills every open fulfillment order with the tracking details. An
// order whose fulfillment orders are all closed is treated as already fulfilled.
func (c *Client) CreateFulfillment(ctx context.Context, id domain.OrderID, f domain.Fulfillment) error {
	resp, err := c.Execute(ctx, OrderFulfillmentOrdersQuery, map[string]interface{}{"id": OrderGID(id)}, true)
	if err != nil {
		return fmt.Errorf("failed to list fulfillment orders for %s: %w", id, err)
	}
	var data fulfillmentOrdersResponse
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("failed to unmarshal fulfillment orders: %w", err)
	}
	if data.Order == nil {
		return &errors.ErrNotFound{Resource: "order", ID: id.String()}
	}

	var open []FulfillmentOrderLineItemsInput
	closed := 0
	for _, edge := range data.Order.FulfillmentOrders.Edges {
		switch edge.Node.Status {
		case "OPEN", "IN_PROGRESS":
			open = append(open, FulfillmentOrderLineItemsInput{FulfillmentOrderID: edge.Node.ID})
		case "CLOSED":
			closed++
		}
	}
	if len(open) == 0 {
		if closed > 0 {
			c.logger.Info("Order already fulfilled on storefront", zap.String("order_id", id.String()))
			return nil
		}
		return fmt.Errorf("order %s has no fulfillable fulfillment orders", id)
	}

	input := FulfillmentInput{
		LineItemsByFulfillmentOrder: open,
		TrackingInfo: FulfillmentTrackingInput{
			Number:  f.TrackingNumber,
			Company: f.Company,
			URL:     f.URL,
		},
		NotifyCustomer: f.NotifyCustomer,
	}
	resp, err = c.Execute(ctx, FulfillmentCreateMutation, map[string]interface{}{"fulfillment": input}, false)
	if err != nil {
		return fmt.Errorf("failed to create fulfillment for %s: %w", id, err)
	}
	var created fulfillmentCreateResponse
	if err := json.Unmarshal(resp.Data, &created); err != nil {
		return fmt.Errorf("failed to unmarshal fulfillment response: %w", err)
	}
	if err := userErrorsToError("fulfillmentCreate", created.FulfillmentCreate.UserErrors); err != nil {
		return err
	}

	c.logger.Info("Fulfillment created",
		zap.String("order_id", id.String()),
		zap.String("tracking_number", f.TrackingNumber),
	)
	return nil
}

// AppendOrderNote appends a line to the order note unless it is already present
func (c *Client) AppendOrderNote(ctx context.Context, id domain.OrderID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	resp, err := c.Execute(ctx, OrderNoteQuery, map[string]interface{}{"id": OrderGID(id)}, true)
	if err != nil {
		return fmt.Errorf("failed to read note for %s: %w", id, err)
	}
	var data orderNoteResponse
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("failed to unmarshal order note: %w", err)
	}
	if data.Order == nil {
		return &errors.ErrNotFound{Resource: "order", ID: id.String()}
	}
	current := ""
	if data.Order.Note != nil {
		current = *data.Order.Note
	}
	if strings.Contains(current, text) {
		return nil
	}

	resp, err = c.Execute(ctx, OrderUpdateMutation, map[string]interface{}{
		"input": map[string]interface{}{
			"id":   OrderGID(id),
			"note": textutil.JoinNonBlank("\n", current, text),
		},
	}, true)
	if err != nil {
		return fmt.Errorf("failed to update note for %s: %w", id, err)
	}
	var updated orderUpdateResponse
	if err := json.Unmarshal(resp.Data, &updated); err != nil {
		return fmt.Errorf("failed to unmarshal order update: %w", err)
	}
	return userErrorsToError("orderUpdate", updated.OrderUpdate.UserErrors)
}

func nonBlank(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
