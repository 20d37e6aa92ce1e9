package validation

import (
	"fmt"
	"unicode/utf8"
)

// Пароль закрытой группы.
const (
	MinGroupPasswordLength = 4
	MaxGroupPasswordLength = 72
)

// ValidateGroupPassword проверяет пароль закрытой группы.
// Верхняя граница совпадает с лимитом bcrypt в 72 байта.
func ValidateGroupPassword(password string) error {
	if utf8.RuneCountInString(password) < MinGroupPasswordLength {
		return fmt.Errorf("пароль группы должен быть не менее %d символов", MinGroupPasswordLength)
	}
	if len(password) > MaxGroupPasswordLength {
		return fmt.Errorf("пароль группы должен быть не длиннее %d байт", MaxGroupPasswordLength)
	}
	return nil
}
