package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword salts and hashes a plaintext credential for storage.
func HashPassword(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

// ComparePassword checks a login attempt against the stored hash. A nil
// return means the credential matches.
func ComparePassword(hashed string, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
