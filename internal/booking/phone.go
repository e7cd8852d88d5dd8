package booking

import (
	"strings"
	"unicode"
)

var digitWords = map[string]string{
	"zero": "0", "oh": "0", "o": "0",
	"one": "1", "two": "2", "to": "2", "too": "2", "three": "3", "four": "4", "for": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
}

// phoneFillerWords may surround a spoken number without making it invalid.
var phoneFillerWords = map[string]bool{
	"my": true, "number": true, "is": true, "its": true, "it": true, "the": true, "phone": true,
	"cell": true, "mobile": true, "home": true, "area": true, "code": true, "and": true, "then": true,
	"dash": true, "yes": true, "yeah": true, "sure": true, "ok": true, "okay": true, "um": true, "uh": true,
	"you": true, "can": true, "reach": true, "me": true, "at": true, "call": true, "plus": true,
}

// ExtractDigits reads a phone number spoken as digits, digit words, or a
// mix ("five five five, 123, double four"). It also reports how many words
// were neither digits nor phone filler.
func ExtractDigits(s string) (digits string, stray int) {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	var b strings.Builder
	repeat := 1
	for _, f := range fields {
		f = strings.ReplaceAll(f, "'", "")
		switch {
		case isDigits(f):
			b.WriteString(strings.Repeat(f[:1], repeat-1))
			b.WriteString(f)
			repeat = 1
		case digitWords[f] != "":
			b.WriteString(strings.Repeat(digitWords[f], repeat))
			repeat = 1
		case f == "double":
			repeat = 2
		case f == "triple":
			repeat = 3
		case f == "hundred":
			b.WriteString("00")
		case f == "thousand":
			b.WriteString("000")
		case phoneFillerWords[f]:
		default:
			stray++
		}
	}
	return b.String(), stray
}

// NormalizePhone returns the 10-digit national number or "".
func NormalizePhone(s string) string {
	digits, _ := ExtractDigits(s)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return ""
	}
	return digits
}

// FormatPhone renders ten digits as 555-123-4567.
func FormatPhone(digits string) string {
	if len(digits) != 10 || !isDigits(digits) {
		return digits
	}
	return digits[:3] + "-" + digits[3:6] + "-" + digits[6:]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
