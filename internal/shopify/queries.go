package shopify

// OrderFulfillmentOrdersQuery lists an order's fulfillment orders and their status
const OrderFulfillmentOrdersQuery = `
query orderFulfillmentOrders($id: ID!) {
  order(id: $id) {
    id
    fulfillmentOrders(first: 20) {
      edges {
        node {
          id
          status
        }
      }
    }
  }
}
`

// OrderNoteQuery fetches the current order note
const OrderNoteQuery = `
query orderNote($id: ID!) {
  order(id: $id) {
    id
    note
  }
}
`

type fulfillmentOrdersResponse struct {
	Order *struct {
		ID                string `json:"id"`
		FulfillmentOrders struct {
			Edges []struct {
				Node struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"fulfillmentOrders"`
	} `json:"order"`
}

type orderNoteResponse struct {
	Order *struct {
		ID   string  `json:"id"`
		Note *string `json:"note"`
	} `json:"order"`
}

// AccessScopesQuery lists the scopes granted to the app installation
const AccessScopesQuery = `
query accessScopes {
  currentAppInstallation {
    accessScopes {
      handle
    }
  }
}
`

type accessScopesResponse struct {
	CurrentAppInstallation struct {
		AccessScopes []struct {
			Handle string `json:"handle"`
		} `json:"accessScopes"`
	} `json:"currentAppInstallation"`
}
