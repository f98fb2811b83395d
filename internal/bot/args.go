package bot

import (
	"errors"
	"strings"
	"unicode"
)

var (
	errUnclosedQuote = errors.New("expected closing quote")
	errQuoteEnd      = errors.New("expected space after closing quote")
)

// quotePairs maps opening quotes to their closing rune. Mobile keyboards
// often send typographic quotes.
var quotePairs = map[rune]rune{
	'"':      '"',
	'\u201c': '\u201d',
	'\u201e': '\u201c',
	'\u00ab': '\u00bb',
}

// splitArgs splits a command line into arguments. A quote only opens at the
// start of an argument and keeps the phrase together; inside it a backslash
// escapes the closing quote. Everything else, including apostrophes, '#', '&'
// and backslashes in bare words, is taken literally so URLs pass through intact.
func splitArgs(s string) ([]string, error) {
	var (
		args []string
		buf  strings.Builder
	)
	runes := []rune(s)

	for i := 0; i < len(runes); {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}

		closing, quoted := quotePairs[runes[i]]
		if !quoted {
			for i < len(runes) && !unicode.IsSpace(runes[i]) {
				buf.WriteRune(runes[i])
				i++
			}
			args = append(args, buf.String())
			buf.Reset()
			continue
		}

		i++
		closed := false
		for i < len(runes) {
			r := runes[i]
			if r == '\\' && i+1 < len(runes) && runes[i+1] == closing {
				buf.WriteRune(closing)
				i += 2
				continue
			}
			i++
			if r == closing {
				closed = true
				break
			}
			buf.WriteRune(r)
		}
		if !closed {
			return nil, errUnclosedQuote
		}
		if i < len(runes) && !unicode.IsSpace(runes[i]) {
			return nil, errQuoteEnd
		}
		args = append(args, buf.String())
		buf.Reset()
	}
	return args, nil
}
