package protocol

import (
	"strings"
	"unicode"
)

// MaxChatLength is the longest text the client will pack.
const MaxChatLength = 80

// chatCharset is the client's nibble table. The first 13 entries pack into
// a single nibble, the rest into two.
var chatCharset = []rune{
	' ', 'e', 't', 'a', 'o', 'i', 'h', 'n', 's', 'r', 'd', 'l', 'u',
	'm', 'w', 'c', 'y', 'f', 'g', 'p', 'b', 'v', 'k', 'x', 'j', 'q', 'z',
	'0', '1', '2', '3', '4', '5', '6', '7', '8', '9',
	' ', '!', '?', '.', ',', ':', ';', '(', ')', '-', '&', '*', '\\', '\'',
	'@', '#', '+', '=', '£', '$', '%', '"', '[', ']',
}

const singleNibbleChars = 13

// UnpackChat decodes packed chat text as sent in a chat or private message
// payload.
func UnpackChat(packed []byte) string {
	var sb strings.Builder
	high := -1
	for i := 0; i < len(packed)*2; i++ {
		val := int(packed[i/2]>>(4-4*(i%2))) & 0xf
		if high == -1 {
			if val < singleNibbleChars {
				sb.WriteRune(chatCharset[val])
			} else {
				high = val
			}
			continue
		}
		idx := (high << 4) + val - 195
		if idx >= 0 && idx < len(chatCharset) {
			sb.WriteRune(chatCharset[idx])
		}
		high = -1
	}
	return sb.String()
}

// PackChat encodes text the way the client does. Characters outside the
// charset become spaces and text past MaxChatLength is dropped.
func PackChat(text string) []byte {
	runes := []rune(strings.ToLower(text))
	if len(runes) > MaxChatLength {
		runes = runes[:MaxChatLength]
	}

	out := make([]byte, 0, len(runes))
	carry := -1
	for _, r := range runes {
		idx := charsetIndex(r)
		if idx >= singleNibbleChars {
			idx += 195
		}
		switch {
		case carry == -1 && idx < singleNibbleChars:
			carry = idx
		case carry == -1:
			out = append(out, byte(idx))
		case idx < singleNibbleChars:
			out = append(out, byte(carry<<4+idx))
			carry = -1
		default:
			out = append(out, byte(carry<<4+idx>>4))
			carry = idx & 0xf
		}
	}
	if carry != -1 {
		out = append(out, byte(carry<<4))
	}
	return out
}

func charsetIndex(r rune) int {
	for i, c := range chatCharset {
		if c == r {
			return i
		}
	}
	return 0
}

// SentenceCase capitalises the first letter of every sentence, matching how
// the client renders chat.
func SentenceCase(text string) string {
	runes := []rune(text)
	upper := true
	for i, r := range runes {
		if upper && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			upper = false
		}
		if r == '.' || r == '!' || r == '?' {
			upper = true
		}
	}
	return string(runes)
}
