package detectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
	"github.com/clawsec-labs/clawsec/pkg/ledger"
)

func purchaseRule(t *testing.T) config.PurchaseRule {
	t.Helper()
	return config.Default().Rules.Purchase
}

func TestPurchaseDetectsKnownPaymentDomain(t *testing.T) {
	d := NewPurchaseDetector(purchaseRule(t), ledger.New())
	tcc := contracts.NewToolCallContext("browser", map[string]any{"url": "https://stripe.com"})

	det, err := d.Detect(context.Background(), tcc)
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, contracts.CategoryPurchase, det.Category)
	assert.InDelta(t, 0.95, det.Confidence, 1e-9)
	assert.Equal(t, "stripe.com", det.Metadata["domain"])
}

func TestPurchaseIgnoresUnrelatedDomain(t *testing.T) {
	d := NewPurchaseDetector(purchaseRule(t), ledger.New())
	tcc := contracts.NewToolCallContext("browser", map[string]any{"url": "https://news.example.org/article"})

	det, err := d.Detect(context.Background(), tcc)
	require.NoError(t, err)
	assert.Nil(t, det)
}

func TestPurchaseHostnameKeywordFallback(t *testing.T) {
	d := NewPurchaseDetector(purchaseRule(t), ledger.New())
	tcc := contracts.NewToolCallContext("browser", map[string]any{"url": "https://checkout.myshop.example"})

	det, err := d.Detect(context.Background(), tcc)
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.InDelta(t, 0.75, det.Confidence, 1e-9)
	assert.Equal(t, "keyword", det.Metadata["matchKind"])
}

func TestPurchaseFormFields(t *testing.T) {
	d := NewPurchaseDetector(purchaseRule(t), ledger.New())
	tcc := contracts.NewToolCallContext("form_fill", map[string]any{
		"card_number": "4111111111111111",
		"cvv":         "123",
		"expiry_date": "12/27",
	})

	det, err := d.Detect(context.Background(), tcc)
	require.NoError(t, err)
	require.NotNil(t, det)
	// Three matched fields lift the sub-detector to 0.9.
	assert.GreaterOrEqual(t, det.Confidence, 0.9)
	assert.Contains(t, det.Metadata, "formFields")
}

func TestPurchaseCombinationCapsAt99(t *testing.T) {
	d := NewPurchaseDetector(purchaseRule(t), ledger.New())
	tcc := contracts.NewToolCallContext("browser", map[string]any{
		"url":         "https://checkout.stripe.com/c/pay/session",
		"card_number": "4111111111111111",
	})

	det, err := d.Detect(context.Background(), tcc)
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.LessOrEqual(t, det.Confidence, 0.99)
	assert.Greater(t, det.Confidence, 0.95)
}

func TestPurchaseSpendLimitPerTransaction(t *testing.T) {
	rule := purchaseRule(t)
	rule.SpendLimits = &config.SpendLimits{PerTransaction: 100, Daily: 500}
	d := NewPurchaseDetector(rule, ledger.New())

	tcc := contracts.NewToolCallContext("browser", map[string]any{
		"url":    "https://stripe.com",
		"amount": 150.0,
	})
	det, err := d.Detect(context.Background(), tcc)
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, ledger.ExceededPerTransaction, det.Metadata["exceededLimit"])
	assert.Equal(t, 150.0, det.Metadata["amount"])
}

func TestPurchaseSpendLimitExactBoundaryAllowed(t *testing.T) {
	rule := purchaseRule(t)
	rule.SpendLimits = &config.SpendLimits{PerTransaction: 100, Daily: 500}
	d := NewPurchaseDetector(rule, ledger.New())

	tcc := contracts.NewToolCallContext("browser", map[string]any{
		"url":    "https://stripe.com",
		"amount": 100.0,
	})
	det, err := d.Detect(context.Background(), tcc)
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.NotContains(t, det.Metadata, "exceededLimit")
}

func TestPurchaseMissingAmountAssumesWorstCase(t *testing.T) {
	rule := purchaseRule(t)
	rule.SpendLimits = &config.SpendLimits{PerTransaction: 100, Daily: 500}
	l := ledger.New()
	l.Record(450, "shop.example", "")
	d := NewPurchaseDetector(rule, l)

	tcc := contracts.NewToolCallContext("browser", map[string]any{"url": "https://stripe.com"})
	det, err := d.Detect(context.Background(), tcc)
	require.NoError(t, err)
	require.NotNil(t, det)
	// Assumed amount 100 pushes the daily total past 500.
	assert.Equal(t, ledger.ExceededDaily, det.Metadata["exceededLimit"])
	assert.Equal(t, 100.0, det.Metadata["amount"])
}

func TestPurchaseDisabled(t *testing.T) {
	rule := purchaseRule(t)
	f := false
	rule.Enabled = &f
	d := NewPurchaseDetector(rule, ledger.New())

	tcc := contracts.NewToolCallContext("browser", map[string]any{"url": "https://stripe.com"})
	det, err := d.Detect(context.Background(), tcc)
	require.NoError(t, err)
	assert.Nil(t, det)
}

func TestExtractPurchaseAmountSearchOrder(t *testing.T) {
	cases := []struct {
		name  string
		input map[string]any
		want  float64
	}{
		{"top level amount", map[string]any{"amount": 42.5}, 42.5},
		{"query parameter", map[string]any{"url": "https://shop.example/checkout?total=19.99"}, 19.99},
		{"nested body", map[string]any{"body": map[string]any{"price": "12.00"}}, 12},
		{"fields array", map[string]any{"fields": []any{
			map[string]any{"name": "total_amount", "value": "88.20"},
		}}, 88.2},
		{"free text currency", map[string]any{"content": "please pay $25.50 now"}, 25.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tcc := contracts.NewToolCallContext("browser", tc.input)
			got, ok := extractPurchaseAmount(tcc)
			require.True(t, ok)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}
