package detectors

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
	"github.com/clawsec-labs/clawsec/pkg/ledger"
	"github.com/clawsec-labs/clawsec/pkg/patterns"
)

// builtinPaymentDomains is always consulted; the configured blocklist is
// merged on top. Covers the major card processors, gateways, wallets, and
// marketplace checkout hosts.
var builtinPaymentDomains = []string{
	"stripe.com",
	"checkout.stripe.com",
	"paypal.com",
	"braintreegateway.com",
	"squareup.com",
	"adyen.com",
	"checkout.com",
	"authorize.net",
	"worldpay.com",
	"2checkout.com",
	"venmo.com",
	"cash.app",
	"klarna.com",
	"afterpay.com",
	"affirm.com",
	"payoneer.com",
	"wise.com",
	"revolut.com",
	"amazon.com",
	"pay.amazon.com",
	"ebay.com",
	"etsy.com",
	"alibaba.com",
	"aliexpress.com",
	"shopify.com",
	"shop.app",
	"gumroad.com",
	"paddle.com",
	"lemonsqueezy.com",
}

// hostnameKeywords mark likely payment hosts with tiered confidence.
var hostnameKeywords = []struct {
	keyword    string
	confidence float64
}{
	{"checkout", 0.75},
	{"payment", 0.72},
	{"billing", 0.68},
	{"pay", 0.62},
	{"shop", 0.58},
	{"store", 0.55},
}

// Payment form-field name fragments.
var paymentFieldFragments = []string{
	"card",
	"cvv",
	"cvc",
	"expiry",
	"exp-month", "exp_month", "expmonth",
	"exp-year", "exp_year", "expyear",
	"security-code", "security_code", "securitycode",
	"billing-", "billing_",
	"routing",
	"iban",
	"bank-account", "bank_account", "bankaccount",
	"payment-method", "payment_method", "paymentmethod",
	"payment-type", "payment_type", "paymenttype",
}

var (
	// PAN-shaped: 13-19 digits with optional space/dash separators.
	panRe = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	// CVV labeled 3-4 digit code.
	cvvRe = regexp.MustCompile(`(?i)\b(?:cvv|cvc|security code)\s*[:=]?\s*\d{3,4}\b`)
	// MM/YY or MM/YYYY expiry.
	expiryRe = regexp.MustCompile(`\b(0[1-9]|1[0-2])\s*/\s*(\d{2}|\d{4})\b`)
)

// PurchaseDetector composes the domain, URL-path, and form-field
// sub-detectors with the spend ledger.
type PurchaseDetector struct {
	rule   config.PurchaseRule
	ledger *ledger.Ledger
}

// NewPurchaseDetector wires the detector to its rule and the shared ledger.
func NewPurchaseDetector(rule config.PurchaseRule, l *ledger.Ledger) *PurchaseDetector {
	return &PurchaseDetector{rule: rule, ledger: l}
}

func (d *PurchaseDetector) Name() string { return string(contracts.CategoryPurchase) }

// Detect runs the three sub-detectors, combines their results, and applies
// the spend-limit check when limits are configured.
func (d *PurchaseDetector) Detect(_ context.Context, tcc *contracts.ToolCallContext) (*contracts.Detection, error) {
	if d.rule.Enabled == nil || !*d.rule.Enabled {
		return nil, nil
	}

	var subs []subResult
	if s := d.detectDomain(tcc); s != nil {
		subs = append(subs, *s)
	}
	if s := d.detectURLPath(tcc); s != nil {
		subs = append(subs, *s)
	}
	if s := d.detectFormFields(tcc); s != nil {
		subs = append(subs, *s)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	conf, reason, meta := combine(subs)
	det := &contracts.Detection{
		Category:   contracts.CategoryPurchase,
		Severity:   contracts.Severity(d.rule.Severity),
		Confidence: conf,
		Reason:     reason,
		Metadata:   meta,
	}
	d.applySpendLimits(det, tcc)
	return det, nil
}

func (d *PurchaseDetector) detectDomain(tcc *contracts.ToolCallContext) *subResult {
	domain := patterns.ExtractDomain(tcc.URL)
	if domain == "" {
		return nil
	}

	domains := append(append([]string{}, builtinPaymentDomains...), d.rule.Domains.Blocklist...)
	if m, ok := patterns.MatchAnyDomain(domain, domains); ok {
		conf := m.Confidence
		kind := "wildcard"
		if m.Exact {
			kind = "exact"
		}
		return &subResult{
			Confidence: conf,
			Reason:     fmt.Sprintf("URL targets payment domain %s", domain),
			Metadata: map[string]any{
				"type":           "domain",
				"domain":         domain,
				"url":            tcc.URL,
				"matchedPattern": m.Pattern,
				"matchKind":      kind,
			},
		}
	}

	host := domain
	for _, kw := range hostnameKeywords {
		if strings.Contains(host, kw.keyword) {
			return &subResult{
				Confidence: kw.confidence,
				Reason:     fmt.Sprintf("hostname %s contains payment keyword %q", domain, kw.keyword),
				Metadata: map[string]any{
					"type":           "domain",
					"domain":         domain,
					"url":            tcc.URL,
					"matchedPattern": kw.keyword,
					"matchKind":      "keyword",
				},
			}
		}
	}
	return nil
}

func (d *PurchaseDetector) detectURLPath(tcc *contracts.ToolCallContext) *subResult {
	seg, ok := patterns.MatchURLPath(tcc.URL)
	if !ok {
		return nil
	}
	return &subResult{
		Confidence: 0.8,
		Reason:     fmt.Sprintf("URL path contains checkout segment %q", seg),
		Metadata: map[string]any{
			"type":           "urlPath",
			"url":            tcc.URL,
			"matchedPattern": seg,
		},
	}
}

func (d *PurchaseDetector) detectFormFields(tcc *contracts.ToolCallContext) *subResult {
	matched := map[string]bool{}

	record := func(name string) {
		lower := strings.ToLower(name)
		for _, frag := range paymentFieldFragments {
			if strings.Contains(lower, frag) {
				matched[name] = true
				return
			}
		}
	}

	for key := range tcc.ToolInput {
		record(key)
	}
	for _, f := range fieldEntries(tcc.ToolInput) {
		record(f.name)
	}

	for _, text := range freeTexts(tcc.ToolInput) {
		if panRe.MatchString(text) {
			matched["(card number)"] = true
		}
		if cvvRe.MatchString(text) {
			matched["(cvv)"] = true
		}
		if expiryRe.MatchString(text) {
			matched["(expiry)"] = true
		}
	}

	if len(matched) == 0 {
		return nil
	}

	fields := make([]string, 0, len(matched))
	for name := range matched {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	conf := 0.75
	if len(matched) >= 3 {
		conf = 0.9
	}
	return &subResult{
		Confidence: conf,
		Reason:     fmt.Sprintf("tool input carries %d payment form field(s)", len(matched)),
		Metadata: map[string]any{
			"type":       "formFields",
			"formFields": fields,
		},
	}
}

// applySpendLimits extracts an amount (assuming the per-transaction limit
// when none is found), checks per-transaction before daily, and annotates
// the detection on exceed.
func (d *PurchaseDetector) applySpendLimits(det *contracts.Detection, tcc *contracts.ToolCallContext) {
	sl := d.rule.SpendLimits
	if sl == nil || d.ledger == nil {
		return
	}

	amount, found := extractPurchaseAmount(tcc)
	if !found {
		// Worst case: assume the transaction is at the per-transaction cap.
		amount = sl.PerTransaction
	}

	exceeded, dailyTotal := d.ledger.CheckLimits(amount, ledger.Limits{
		PerTransaction: sl.PerTransaction,
		Daily:          sl.Daily,
	})

	if det.Metadata == nil {
		det.Metadata = map[string]any{}
	}
	det.Metadata["amount"] = amount
	det.Metadata["currentDailyTotal"] = dailyTotal
	if exceeded == "" {
		return
	}
	det.Metadata["exceededLimit"] = exceeded
	switch exceeded {
	case ledger.ExceededPerTransaction:
		det.Reason += fmt.Sprintf(" Amount %.2f exceeds the per-transaction limit of %.2f.", amount, sl.PerTransaction)
	case ledger.ExceededDaily:
		det.Reason += fmt.Sprintf(" Amount %.2f would push the rolling daily total past %.2f (currently %.2f).", amount, sl.Daily, dailyTotal)
	}
}

// extractPurchaseAmount searches, in order: top-level amount fields, URL
// query parameters, nested data/body/formData objects, fields[].value, and
// finally the free-text currency grammar.
func extractPurchaseAmount(tcc *contracts.ToolCallContext) (float64, bool) {
	for _, key := range []string{"amount", "price", "total", "grandTotal"} {
		if v, ok := tcc.ToolInput[key]; ok {
			if f, ok := patterns.ExtractAmount(v); ok {
				return f, true
			}
		}
	}

	if tcc.URL != "" {
		raw := tcc.URL
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		if u, err := url.Parse(raw); err == nil {
			q := u.Query()
			for _, key := range []string{"amount", "price", "total", "grandTotal"} {
				if v := q.Get(key); v != "" {
					if f, ok := patterns.ExtractAmount(v); ok {
						return f, true
					}
				}
			}
		}
	}

	for _, key := range []string{"data", "body", "formData"} {
		if nested, ok := tcc.ToolInput[key].(map[string]any); ok {
			for _, inner := range []string{"amount", "price", "total", "grandTotal"} {
				if v, ok := nested[inner]; ok {
					if f, ok := patterns.ExtractAmount(v); ok {
						return f, true
					}
				}
			}
		}
	}

	for _, f := range fieldEntries(tcc.ToolInput) {
		if amt, ok := patterns.ExtractAmount(f.value); ok && looksLikeAmountField(f.name) {
			return amt, true
		}
	}

	for _, text := range freeTexts(tcc.ToolInput) {
		if f, ok := patterns.ExtractAmount(text); ok {
			return f, true
		}
	}
	return 0, false
}

func looksLikeAmountField(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range []string{"amount", "price", "total"} {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// fieldEntry is one {name,value} element of a fields array.
type fieldEntry struct {
	name  string
	value any
}

func fieldEntries(input map[string]any) []fieldEntry {
	raw, ok := input["fields"].([]any)
	if !ok {
		return nil
	}
	var out []fieldEntry
	for _, el := range raw {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		out = append(out, fieldEntry{name: name, value: m["value"]})
	}
	return out
}

// freeTexts returns all top-level string values of the tool input.
func freeTexts(input map[string]any) []string {
	var out []string
	for _, v := range input {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
