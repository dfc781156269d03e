package util

import "strings"

const nameChars = "_abcdefghijklmnopqrstuvwxyz0123456789"

// maxNameLong is 37^12, one past the largest twelve character name.
const maxNameLong int64 = 6582952005840035281

// NameToLong packs a player name into the base-37 hash the client uses for
// friend lists, ignore lists and private messages. Letters are case
// insensitive and anything outside [a-z0-9] packs as an underscore.
func NameToLong(name string) int64 {
	var l int64
	for i := 0; i < len(name) && i < 12; i++ {
		c := name[i]
		l *= 37
		switch {
		case c >= 'A' && c <= 'Z':
			l += int64(1 + c - 'A')
		case c >= 'a' && c <= 'z':
			l += int64(1 + c - 'a')
		case c >= '0' && c <= '9':
			l += int64(27 + c - '0')
		}
	}
	for l%37 == 0 && l != 0 {
		l /= 37
	}
	return l
}

// LongToName unpacks a base-37 name hash into its lowercase form with
// underscores. Out of range values yield "invalid_name".
func LongToName(l int64) string {
	if l <= 0 || l >= maxNameLong || l%37 == 0 {
		return "invalid_name"
	}
	var buf [12]byte
	i := len(buf)
	for l != 0 && i > 0 {
		i--
		buf[i] = nameChars[l%37]
		l /= 37
	}
	return string(buf[i:])
}

// FormatName turns a stored name into display form: underscores become
// spaces and each word is capitalised.
func FormatName(name string) string {
	words := strings.Fields(strings.ReplaceAll(strings.ToLower(name), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
