package shopify

// TagsAddMutation adds tags to an order (existing tags are preserved)
const TagsAddMutation = `
mutation tagsAdd($id: ID!, $tags: [String!]!) {
  tagsAdd(id: $id, tags: $tags) {
    node {
      id
    }
    userErrors {
      field
      message
    }
  }
}
`

// TagsRemoveMutation removes tags from an order
const TagsRemoveMutation = `
mutation tagsRemove($id: ID!, $tags: [String!]!) {
  tagsRemove(id: $id, tags: $tags) {
    node {
      id
    }
    userErrors {
      field
      message
    }
  }
}
`

// FulfillmentCreateMutation fulfills open fulfillment orders with tracking info
const FulfillmentCreateMutation = `
mutation fulfillmentCreate($fulfillment: FulfillmentInput!) {
  fulfillmentCreate(fulfillment: $fulfillment) {
    fulfillment {
      id
      status
    }
    userErrors {
      field
      message
    }
  }
}
`

// OrderUpdateMutation replaces the order note
const OrderUpdateMutation = `
mutation orderUpdate($input: OrderInput!) {
  orderUpdate(input: $input) {
    order {
      id
      note
    }
    userErrors {
      field
      message
    }
  }
}
`

// FulfillmentInput represents the input for fulfillmentCreate
type FulfillmentInput struct {
	LineItemsByFulfillmentOrder []FulfillmentOrderLineItemsInput `json:"lineItemsByFulfillmentOrder"`
	TrackingInfo                FulfillmentTrackingInput         `json:"trackingInfo"`
	NotifyCustomer              bool                             `json:"notifyCustomer"`
}

// FulfillmentOrderLineItemsInput selects a whole fulfillment order
type FulfillmentOrderLineItemsInput struct {
	FulfillmentOrderID string `json:"fulfillmentOrderId"`
}

// FulfillmentTrackingInput carries the courier tracking details
type FulfillmentTrackingInput struct {
	Number  string `json:"number"`
	Company string `json:"company,omitempty"`
	URL     string `json:"url,omitempty"`
}

type tagsMutationResponse struct {
	TagsAdd *struct {
		UserErrors []UserError `json:"userErrors"`
	} `json:"tagsAdd"`
	TagsRemove *struct {
		UserErrors []UserError `json:"userErrors"`
	} `json:"tagsRemove"`
}

type fulfillmentCreateResponse struct {
	FulfillmentCreate struct {
		Fulfillment *struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"fulfillment"`
		UserErrors []UserError `json:"userErrors"`
	} `json:"fulfillmentCreate"`
}

type orderUpdateResponse struct {
	OrderUpdate struct {
		UserErrors []UserError `json:"userErrors"`
	} `json:"orderUpdate"`
}
