package ids

import (
	"reflect"
	"strings"
	"testing"
)

func TestNewWebhookID(t *testing.T) {
	a := NewWebhookID()
	b := NewWebhookID()

	if !strings.HasPrefix(a, "wh_") {
		t.Errorf("expected wh_ prefix, got %s", a)
	}
	if a == b {
		t.Error("expected unique ids")
	}
	if !HasPrefix(a, PrefixWebhook) {
		t.Errorf("expected %s to parse with prefix wh", a)
	}
	if HasPrefix(a, PrefixDelivery) {
		t.Errorf("did not expect %s to carry prefix del", a)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{" , ,", nil},
		{"a", []string{"a"}},
		{"a, b ,a,,c", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		if got := SplitList(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitList(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
