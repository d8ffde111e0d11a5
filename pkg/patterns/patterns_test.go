package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://Example.COM/path", "example.com"},
		{"example.com", "example.com"},
		{"example.com/checkout", "example.com"},
		{"http://sub.shop.example.com:8080/x", "sub.shop.example.com"},
		{"", ""},
		{"   ", ""},
		{"ht tp://bad host", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ExtractDomain(c.in), "input %q", c.in)
	}
}

func TestMatchDomain_Exact(t *testing.T) {
	m, ok := MatchDomain("stripe.com", "stripe.com")
	require.True(t, ok)
	assert.True(t, m.Exact)
	assert.InDelta(t, 0.95, m.Confidence, 0.001)
}

func TestMatchDomain_Glob(t *testing.T) {
	cases := []struct {
		domain, pattern string
		want            bool
	}{
		{"pay.example.com", "*.example.com", true},
		{"a.b.example.com", "*.example.com", false}, // single star stops at dots
		{"a.b.example.com", "**.example.com", true},
		{"shop.com", "sh?p.com", true},
		{"shop.com", "sh??p.com", false},
		{"PAYPAL.COM", "paypal.com", true},
		{"evilpaypal.com", "paypal.com", false}, // anchored
		{"paypal.com.evil.io", "paypal.com", false},
		{"x+y.com", "x+y.com", true}, // metacharacters literalized
		// Multibyte patterns quote whole runes, not bytes.
		{"пример.example.com", "*.example.com", true},
		{"pay.пример.com", "*.пример.com", true},
		{"münchen.de", "münchen.de", true},
		{"store.münchen.de", "*.münchen.de", true},
		{"munchen.de", "münchen.de", false},
	}
	for _, c := range cases {
		_, ok := MatchDomain(c.domain, c.pattern)
		assert.Equal(t, c.want, ok, "%s vs %s", c.domain, c.pattern)
	}
}

func TestMatchDomain_WildcardConfidenceRange(t *testing.T) {
	m, ok := MatchDomain("pay.example.com", "*.example.com")
	require.True(t, ok)
	assert.GreaterOrEqual(t, m.Confidence, 0.95)
	assert.LessOrEqual(t, m.Confidence, 0.99)
}

func TestExtractAmount(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{99.99, 99.99, true},
		{42, 42, true},
		{-5, 0, false},
		{"$1,234.56", 1234.56, true},
		{"€500", 500, true},
		{"£19.99", 19.99, true},
		{"amount=250", 250, true},
		{"Price: 49.99", 49.99, true},
		{"TOTAL: $99", 99, true},
		{"pay 30 USD now", 30, true},
		{"99.99", 99.99, true},
		{"-99.99", 0, false},
		{"no money here", 0, false},
		{"", 0, false},
		{map[string]any{"x": 1}, 0, false},
	}
	for _, c := range cases {
		got, ok := ExtractAmount(c.in)
		assert.Equal(t, c.ok, ok, "input %v", c.in)
		if c.ok {
			assert.InDelta(t, c.want, got, 0.001, "input %v", c.in)
		}
	}
}

func TestMatchURLPath(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://shop.com/checkout", true},
		{"https://shop.com/checkout/confirm", true},
		{"https://shop.com/api/payments", true},
		{"https://shop.com/orders/123", true},
		{"https://shop.com/subscribe", true},
		{"https://shop.com/billing", true},
		{"https://shop.com/payroll", false}, // not a segment boundary
		{"https://shop.com/about", false},
		{"shop.com/upgrade", true},
	}
	for _, c := range cases {
		_, ok := MatchURLPath(c.url)
		assert.Equal(t, c.want, ok, c.url)
	}
}
