package utils

import "golang.org/x/crypto/bcrypt"

// HashSecret stores channel verify-secrets at rest as bcrypt hashes so a
// leaked credentials table does not leak the providers' shared secrets.
func HashSecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), 10)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func VerifySecret(hashedSecret, secret string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedSecret), []byte(secret))
	return err == nil
}
