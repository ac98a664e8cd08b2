package phone

import (
	"errors"
	"testing"
)

func TestNormalizeE164(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		region string
		want   string
	}{
		{name: "local indian mobile", input: "98765 43210", region: "IN", want: "+919876543210"},
		{name: "already international", input: "+91 98765-43210", region: "", want: "+919876543210"},
		{name: "trunk prefix", input: "098765 43210", region: "in", want: "+919876543210"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeE164(tt.input, tt.region)
			if err != nil {
				t.Fatalf("NormalizeE164() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("NormalizeE164() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeE164Rejects(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "   ", "12", "not a number"} {
		if _, err := NormalizeE164(input, "IN"); !errors.Is(err, ErrInvalidNumber) {
			t.Fatalf("NormalizeE164(%q) error = %v, want ErrInvalidNumber", input, err)
		}
	}
}
