package session

import "strings"

// Phrases intercepted as repeat commands, in both configured languages of the
// default pair. Matching is containment on the normalized text, bounded by a
// short word count so ordinary sentences mentioning repetition pass through.
var repeatPhrases = []string{
	"repeat that",
	"repeat it",
	"say that again",
	"say it again",
	"can you repeat",
	"could you repeat",
	"please repeat",
	"one more time",
	"repite eso",
	"repitelo",
	"puede repetir",
	"puedes repetir",
	"otra vez por favor",
	"que dijo",
	"como dijo",
}

const repeatMaxWords = 7

// IsRepeatCommand reports whether a finalized transcript is a request to
// replay the previous turn rather than a new utterance to translate.
func IsRepeatCommand(text string) bool {
	normalized := normalizeRepeat(text)
	if normalized == "" {
		return false
	}
	if len(strings.Fields(normalized)) > repeatMaxWords {
		return false
	}
	if normalized == "repeat" || normalized == "repite" {
		return true
	}
	for _, phrase := range repeatPhrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}

func normalizeRepeat(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch r {
		case '.', ',', '!', '?', '¿', '¡', ';', ':':
			continue
		case 'á':
			r = 'a'
		case 'é':
			r = 'e'
		case 'í':
			r = 'i'
		case 'ó':
			r = 'o'
		case 'ú', 'ü':
			r = 'u'
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
