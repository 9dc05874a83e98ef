package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordCost - стоимость bcrypt (10 раундов)
const PasswordCost = bcrypt.DefaultCost

// HashPassword возвращает bcrypt-хеш пароля
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword сравнивает bcrypt-хеш с паролем
func CheckPassword(hash string, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
