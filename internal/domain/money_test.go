package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{name: "zero", amount: "0"},
		{name: "two_places", amount: "22.50"},
		{name: "whole", amount: "150"},
		{name: "negative", amount: "-1.00", wantErr: true},
		{name: "sub_cent", amount: "10.005", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount("subtotal", decimal.RequireFromString(tt.amount))
			if tt.wantErr {
				assert.True(t, IsValidationError(err))
				assert.Equal(t, ErrorCodeValidationAmountInvalid, GetErrorCode(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestToCentsAndFormat(t *testing.T) {
	assert.Equal(t, int64(12750), ToCents(decimal.RequireFromString("127.50")))
	assert.Equal(t, "127.50", FormatAmount(decimal.RequireFromString("127.5")))
	assert.Equal(t, "0.00", FormatAmount(decimal.Zero))
}
