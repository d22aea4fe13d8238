// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// ErrInvalid служит общей причиной для всех ошибок валидации.
var ErrInvalid = errors.New("invalid input")

const (
	// MinPasswordLength задаёт минимальную длину пароля в символах.
	MinPasswordLength = 6
	// MaxNameLength задаёт максимальную длину отображаемого имени.
	MaxNameLength = 50
	// MaxBioLength задаёт максимальную длину поля «о себе».
	MaxBioLength = 500
)

// Email проверяет, что строка является адресом без отображаемого имени.
func Email(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalid)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return fmt.Errorf("%w: malformed email %q", ErrInvalid, email)
	}

	at := strings.LastIndexByte(email, '@')
	if !strings.Contains(email[at+1:], ".") {
		return fmt.Errorf("%w: email domain must contain a dot", ErrInvalid)
	}
	return nil
}

// Password проверяет минимальную длину пароля.
func Password(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalid, MinPasswordLength)
	}
	return nil
}

// Name проверяет отображаемое имя. Пустое имя допустимо.
func Name(name string) error {
	if utf8.RuneCountInString(strings.TrimSpace(name)) > MaxNameLength {
		return fmt.Errorf("%w: name must be at most %d characters", ErrInvalid, MaxNameLength)
	}
	return nil
}

// Bio проверяет длину поля «о себе».
func Bio(bio string) error {
	if utf8.RuneCountInString(bio) > MaxBioLength {
		return fmt.Errorf("%w: bio must be at most %d characters", ErrInvalid, MaxBioLength)
	}
	return nil
}

// Credentials проверяет email и пароль при регистрации.
func Credentials(email, password string) error {
	if err := Email(email); err != nil {
		return err
	}
	return Password(password)
}
