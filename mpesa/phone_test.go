package mpesa

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0712345678", "254712345678"},
		{"+254712345678", "254712345678"},
		{"254712345678", "254712345678"},
		{"0712 345 678", "254712345678"},
		{"+254-712-345-678", "254712345678"},
		{"0110123456", "254110123456"},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if err != nil {
			t.Errorf("NormalizePhone(%q) returned error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePhoneRejectsInvalid(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"712345678",      // no trunk zero and no country code
		"441234567890",   // wrong country
		"2547123",        // too short to be a subscriber number
		"not-a-number",
	}
	for _, in := range cases {
		if _, err := NormalizePhone(in); err != ErrInvalidPhone {
			t.Errorf("NormalizePhone(%q) err = %v, want ErrInvalidPhone", in, err)
		}
	}
}
