package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("orders/paid", []byte(`{"id": 1001, "tags": "x", "total_price": "19.98"}`))
	b := Fingerprint("orders/paid", []byte(`{"total_price":"19.98","tags":"x","id":1001}`))
	assert.Equal(t, a, b, "key order and whitespace do not matter")
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, Fingerprint("orders/updated", []byte(`{"id":1001,"tags":"x","total_price":"19.98"}`)))
	assert.NotEqual(t, a, Fingerprint("orders/paid", []byte(`{"id":1001,"tags":"x,confirmed","total_price":"19.98"}`)))

	raw := Fingerprint("orders/paid", []byte("not json"))
	assert.Equal(t, raw, Fingerprint("orders/paid", []byte("not json")))
}
