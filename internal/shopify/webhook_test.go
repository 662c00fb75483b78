package shopify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyWebhook(t *testing.T) {
	body := []byte(`{"id":1001}`)
	sig := SignWebhook("s3cret", body)

	assert.True(t, VerifyWebhook("s3cret", body, sig))
	assert.True(t, VerifyWebhook("s3cret", body, " "+sig+" "))
	assert.False(t, VerifyWebhook("other", body, sig))
	assert.False(t, VerifyWebhook("s3cret", []byte(`{"id":1002}`), sig))
	assert.False(t, VerifyWebhook("", body, sig))
	assert.False(t, VerifyWebhook("s3cret", body, ""))
}
