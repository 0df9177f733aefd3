package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("123"))
	assert.Equal(t, "****6789", MaskSecret("0123456789"))
}

func TestMaskJSONOnlyMasksSensitiveKeys(t *testing.T) {
	out := MaskJSON(map[string]any{
		"bank_name":      "First Bank",
		"account_number": "0123456789",
		"nested": map[string]any{
			"IBAN": "DE89370400440532013000",
		},
		"amount": 500,
		"":       "dropped",
	})

	assert.Equal(t, "First Bank", out["bank_name"])
	assert.Equal(t, "****6789", out["account_number"])
	assert.Equal(t, 500, out["amount"])
	assert.Equal(t, "****3000", out["nested"].(map[string]any)["IBAN"])
	_, ok := out[""]
	assert.False(t, ok)
	assert.Nil(t, MaskJSON(nil))
}
