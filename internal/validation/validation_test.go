package validation

import (
	"strings"
	"testing"
)

func TestCheck_OrderCreate(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]string
		bad    string // field expected to fail, empty means pass
	}{
		{"valid", map[string]string{"amount": "100.00"}, ""},
		{"valid no description", map[string]string{"amount": "0.01"}, ""},
		{"missing amount", map[string]string{}, "amount"},
		{"blank amount", map[string]string{"amount": "   "}, "amount"},
		{"zero", map[string]string{"amount": "0"}, "amount"},
		{"negative", map[string]string{"amount": "-5.00"}, "amount"},
		{"three decimals", map[string]string{"amount": "1.005"}, "amount"},
		{"not a number", map[string]string{"amount": "ten"}, "amount"},
		{"description too long", map[string]string{
			"amount":      "1.00",
			"description": strings.Repeat("x", MaxStringLength+1),
		}, "description"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := Check("order.create", tc.fields)
			if tc.bad == "" {
				if len(errs) != 0 {
					t.Fatalf("unexpected errors: %v", errs)
				}
				return
			}
			if len(errs) == 0 {
				t.Fatal("expected a field error")
			}
			if errs[0].Field != tc.bad {
				t.Errorf("failed field = %s, want %s", errs[0].Field, tc.bad)
			}
		})
	}
}

func TestCheck_ResolveWinner(t *testing.T) {
	if errs := Check("order.resolve", map[string]string{"winner": "buyer"}); len(errs) != 0 {
		t.Errorf("buyer: %v", errs)
	}
	if errs := Check("order.resolve", map[string]string{"winner": "settler"}); len(errs) != 0 {
		t.Errorf("settler: %v", errs)
	}
	if errs := Check("order.resolve", map[string]string{"winner": "judge"}); len(errs) == 0 {
		t.Error("arbitrary winner accepted")
	}
	if errs := Check("order.resolve", map[string]string{}); len(errs) == 0 {
		t.Error("missing winner accepted")
	}
}

func TestCheck_UnknownOperationPasses(t *testing.T) {
	// No rules registered means nothing to violate.
	if errs := Check("nonexistent.op", map[string]string{"x": ""}); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestCheck_OneErrorPerField(t *testing.T) {
	// An empty required amount fails Required only, not Amount too.
	errs := Check("funding.submit", map[string]string{"type": "deposit"})
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want exactly one", errs)
	}
	if errs[0].Field != "amount" || errs[0].Message != "is required" {
		t.Errorf("got %+v", errs[0])
	}
}

func TestIsValidMSISDN(t *testing.T) {
	valid := []string{"+254712345678", "254712345678", "+15551234567"}
	for _, s := range valid {
		if !IsValidMSISDN(s) {
			t.Errorf("%q rejected", s)
		}
	}
	invalid := []string{"", "0712345678", "+254-712-345678", "phone", "+2547123456789012345"}
	for _, s := range invalid {
		if IsValidMSISDN(s) {
			t.Errorf("%q accepted", s)
		}
	}
}

func TestIsValidID(t *testing.T) {
	valid := []string{"usr_0123abcd", "ord_deadbeefdeadbeef", "fr_0011223344556677"}
	for _, s := range valid {
		if !IsValidID(s) {
			t.Errorf("%q rejected", s)
		}
	}
	invalid := []string{"", "usr_", "usr_XYZ", "toolongprefix_abcdef12", "usr-0123abcd"}
	for _, s := range invalid {
		if IsValidID(s) {
			t.Errorf("%q accepted", s)
		}
	}
}

func TestCheck_WebhookSubscribe(t *testing.T) {
	ok := map[string]string{"url": "https://example.com/hook", "secret": "s3cret"}
	if errs := Check("webhook.subscribe", ok); len(errs) != 0 {
		t.Errorf("valid subscription rejected: %v", errs)
	}
	bad := map[string]string{"url": "ftp://example.com/hook", "secret": "s3cret"}
	if errs := Check("webhook.subscribe", bad); len(errs) == 0 || errs[0].Field != "url" {
		t.Errorf("ftp url accepted: %v", errs)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello  ", 100); got != "hello" {
		t.Errorf("trim: %q", got)
	}
	if got := SanitizeString("a\x00b", 100); got != "ab" {
		t.Errorf("null bytes: %q", got)
	}
	if got := SanitizeString(strings.Repeat("x", 10), 4); got != "xxxx" {
		t.Errorf("truncate: %q", got)
	}
}
