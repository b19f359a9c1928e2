package editor

import (
	"regexp"
	"unicode/utf8"
)

// A word is one CJK ideograph or a run of ASCII letters and digits.
var wordPattern = regexp.MustCompile(`[\x{4e00}-\x{9fa5}]|[a-zA-Z0-9]+`)

func countWords(text string) int {
	return len(wordPattern.FindAllStringIndex(text, -1))
}

func countChars(text string) int {
	return utf8.RuneCountInString(text)
}
