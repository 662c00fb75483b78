package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderIsPaid(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"paid", true},
		{" PAID ", true},
		{"pending", false},
		{"authorized", false},
		{"partially_paid", false},
		{"", false},
	}
	for _, tt := range tests {
		o := &Order{FinancialStatus: tt.status}
		assert.Equal(t, tt.want, o.IsPaid(), "financial_status %q", tt.status)
	}
}
