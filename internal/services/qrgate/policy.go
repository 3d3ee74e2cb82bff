package qrgate

import (
	"strings"
)

// CodePrefix префикс всех QR-кодов автобусов: BUSQR:<номер>[:<суффикс>]
const CodePrefix = "BUSQR"

// matchRule одно правило сопоставления отсканированного кода с эталонным.
// Правила проверяются по порядку, срабатывает первое подошедшее.
type matchRule struct {
	name  string
	match func(canonical, scanned string) bool
}

var matchPolicy = []matchRule{
	{
		name: "exact",
		match: func(canonical, scanned string) bool {
			return scanned == canonical
		},
	},
	{
		name: "case_insensitive",
		match: func(canonical, scanned string) bool {
			return strings.EqualFold(scanned, canonical)
		},
	},
	{
		// Старые наклейки печатались без случайного суффикса
		name: "legacy_prefix",
		match: func(canonical, scanned string) bool {
			prefix, ok := legacyPrefix(canonical)
			return ok && strings.EqualFold(scanned, prefix)
		},
	},
}

// matchCanonical возвращает имя сработавшего правила
func matchCanonical(canonical, scanned string) (string, bool) {
	if canonical == "" || scanned == "" {
		return "", false
	}
	for _, rule := range matchPolicy {
		if rule.match(canonical, scanned) {
			return rule.name, true
		}
	}
	return "", false
}

// legacyPrefix для BUSQR:<номер>:<суффикс> возвращает BUSQR:<номер>
func legacyPrefix(canonical string) (string, bool) {
	parts := strings.SplitN(canonical, ":", 3)
	if len(parts) != 3 || parts[0] != CodePrefix || parts[1] == "" || parts[2] == "" {
		return "", false
	}
	return parts[0] + ":" + parts[1], true
}

// expectedPrefix префикс кода для автобуса с данным номером
func expectedPrefix(busNumber string) string {
	return CodePrefix + ":" + busNumber
}

// adoptable проверяет, можно ли принять скан как эталонный код автобуса,
// у которого кода ещё нет. BUSQR:1010 не подходит автобусу 101.
func adoptable(busNumber, scanned string) bool {
	if busNumber == "" {
		return false
	}
	prefix := expectedPrefix(busNumber)
	return scanned == prefix || strings.HasPrefix(scanned, prefix+":")
}
