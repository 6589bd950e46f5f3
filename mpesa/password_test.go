package mpesa

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestTimestampFormat(t *testing.T) {
	ts := Timestamp(time.Date(2024, 3, 7, 14, 5, 9, 0, time.UTC))
	if ts != "20240307140509" {
		t.Fatalf("Timestamp = %q, want 20240307140509", ts)
	}
}

func TestPassword(t *testing.T) {
	got, err := Password("174379", "passkey123", "20240307140509")
	if err != nil {
		t.Fatalf("Password returned error: %v", err)
	}
	want := base64.StdEncoding.EncodeToString([]byte("174379passkey12320240307140509"))
	if got != want {
		t.Fatalf("Password = %q, want %q", got, want)
	}

	decoded, err := base64.StdEncoding.DecodeString(got)
	if err != nil {
		t.Fatalf("signature is not valid base64: %v", err)
	}
	if string(decoded) != "174379passkey12320240307140509" {
		t.Fatalf("decoded signature = %q", decoded)
	}
}

func TestPasswordMissingCredentials(t *testing.T) {
	if _, err := Password("", "passkey", "20240307140509"); err != ErrMissingCredentials {
		t.Fatalf("empty short code: err = %v, want ErrMissingCredentials", err)
	}
	if _, err := Password("174379", "", "20240307140509"); err != ErrMissingCredentials {
		t.Fatalf("empty passkey: err = %v, want ErrMissingCredentials", err)
	}
}
