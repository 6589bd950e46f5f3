package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

var CountryCode = "KE"

func IsValidEmail(email string) bool {
	// Basic email validation regex pattern
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err // Phone number is invalid
	}

	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}

	return nil // Phone number is valid for the specified country code
}

// PaymentReference generates a caller-facing payment reference:
// <prefix><unix-ms><6-hex-random>. Uniqueness relies on generation entropy;
// there is no DB-level enforcement.
func PaymentReference(prefix string) string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		// math-free fallback: nanosecond tail keeps the reference unique enough
		return prefix + strconv.FormatInt(time.Now().UnixMilli(), 10) + strconv.FormatInt(time.Now().UnixNano()%0xffffff, 16)
	}
	return prefix + strconv.FormatInt(time.Now().UnixMilli(), 10) + hex.EncodeToString(b)
}

func ProcessValidationErrors(err error) map[string]string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"error": err.Error()}
	}

	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}
