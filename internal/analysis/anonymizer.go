package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

var (
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)
	phonePattern   = regexp.MustCompile(`(01[016789]|02|0[3-9][0-9])[- ]?\d{3,4}[- ]?\d{4}`)
	addressPattern = regexp.MustCompile(`(서울|부산|대구|인천|광주|대전|울산|세종|경기|강원|충북|충남|전북|전남|경북|경남|제주)[^\n,]{3,30}`)
)

// Anonymize replaces e-mail addresses, phone numbers and Korean street
// addresses with stable tokens of the form __kind_<sha256 prefix>__, so the
// same value maps to the same token across samples.
func Anonymize(text string) string {
	if text == "" {
		return text
	}
	text = emailPattern.ReplaceAllStringFunc(text, tokenizer("email"))
	text = phonePattern.ReplaceAllStringFunc(text, tokenizer("number"))
	text = addressPattern.ReplaceAllStringFunc(text, tokenizer("address"))
	return text
}

func tokenizer(kind string) func(string) string {
	return func(v string) string { return token(kind, v) }
}

func token(kind, value string) string {
	sum := sha256.Sum256([]byte(value))
	return "__" + kind + "_" + hex.EncodeToString(sum[:])[:10] + "__"
}
