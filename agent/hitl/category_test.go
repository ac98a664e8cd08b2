package hitl

import "testing"

func TestNormalizeCategory(t *testing.T) {
	t.Parallel()

	cases := []struct {
		reason, question, want string
	}{
		{"exact_pickup", "", CategoryAddress},
		{"Pickup Address", "whatever", CategoryAddress},
		{"", "What is the exact pickup address?", CategoryAddress},
		{"", "Pickup kahan se hai, pata bataiye", CategoryAddress},
		{"", "Where do I drop you?", CategoryDropAddress},
		{"", "Give me your phone number", CategoryContact},
		{"", "How many passengers?", CategoryPassengers},
		{"", "Number of passengers kitne hain?", CategoryPassengers},
		{"", "Do you need AC car?", CategoryACPreference},
		{"", "Advance payment dena hoga?", CategoryAdvancePayment},
		{"", "Cash or UPI payment?", CategoryPayment},
		{"", "Kitna saamaan hai?", CategoryLuggage},
		{"", "Round trip hai ya one way?", CategoryTripType},
		{"toll_receipt", "Do you want a receipt?", "toll_receipt"},
		{"", "Kuch aur?", CategoryGeneral},
	}
	for _, tc := range cases {
		if got := NormalizeCategory(tc.reason, tc.question); got != tc.want {
			t.Errorf("NormalizeCategory(%q, %q) = %q, want %q", tc.reason, tc.question, got, tc.want)
		}
	}
}

func TestNormalizeCategoryLexicalVariantsShareKey(t *testing.T) {
	t.Parallel()

	a := NormalizeCategory("", "Madam, pickup ka exact address kya hai?")
	b := NormalizeCategory("pickup_location", "Where should I come?")
	c := NormalizeCategory("", "पिकअप का पता बताइए")
	if a != b || b != c || a != CategoryAddress {
		t.Fatalf("categories differ: %q %q %q", a, b, c)
	}
}
