package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt cost for passwords hashed at start-up.
const PasswordCost = 10

// HashOrRead lets operators configure either a plain password or a bcrypt hash.
// A value bcrypt can read a cost from is kept as is.
func HashOrRead(password string) ([]byte, error) {
	if _, err := bcrypt.Cost([]byte(password)); err == nil {
		return []byte(password), nil
	}
	return bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
}

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
