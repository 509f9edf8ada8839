package score

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/ppiankov/claimsagent/internal/model"
)

// SentimentScore is the outcome of Scorer.Sentiment.
type SentimentScore struct {
	Sentiment  model.Sentiment `json:"sentiment"`
	Urgency    model.Urgency   `json:"urgency"`
	Confidence float64         `json:"confidence"`
	Themes     []string        `json:"themes"`
	Summary    string          `json:"summary"`
	Matches    []string        `json:"matches"`
}

type phraseClass int

const (
	// alarm phrases name a worrying symptom
	classAlarm phraseClass = iota
	// critical phrases are urgent on their own
	classCritical
	classIntensifier
	classConcern
	classNegative
	classPositive
)

type phrase struct {
	words []string
	class phraseClass
	theme string
}

func term(text string, class phraseClass, theme string) phrase {
	return phrase{words: strings.Fields(text), class: class, theme: theme}
}

// Longer phrases come first so "bleeding heavily" wins over "bleeding".
var lexicon = []phrase{
	term("can't breathe", classCritical, "breathing difficulty"),
	term("cannot breathe", classCritical, "breathing difficulty"),
	term("can not breathe", classCritical, "breathing difficulty"),
	term("heart attack", classCritical, "cardiac"),
	term("passed out", classCritical, "loss of consciousness"),
	term("bleeding heavily", classCritical, "bleeding"),
	term("slurred speech", classCritical, "neurological"),
	term("want to die", classCritical, "self-harm"),
	term("fainted", classCritical, "loss of consciousness"),
	term("unconscious", classCritical, "loss of consciousness"),
	term("seizure", classCritical, "neurological"),
	term("stroke", classCritical, "neurological"),
	term("suicidal", classCritical, "self-harm"),
	term("emergency", classCritical, "emergency"),

	term("shortness of breath", classAlarm, "breathing difficulty"),
	term("short of breath", classAlarm, "breathing difficulty"),
	term("trouble breathing", classAlarm, "breathing difficulty"),
	term("difficulty breathing", classAlarm, "breathing difficulty"),
	term("hard to breathe", classAlarm, "breathing difficulty"),
	term("chest pain", classAlarm, "chest pain"),
	term("chest tightness", classAlarm, "chest pain"),
	term("tight chest", classAlarm, "chest pain"),
	term("coughing blood", classAlarm, "bleeding"),
	term("bleeding", classAlarm, "bleeding"),
	term("numbness", classAlarm, "neurological"),
	term("confused", classAlarm, "neurological"),
	term("vomiting", classAlarm, "gastrointestinal"),

	term("severe", classIntensifier, ""),
	term("crushing", classIntensifier, ""),
	term("unbearable", classIntensifier, ""),
	term("excruciating", classIntensifier, ""),
	term("worst", classIntensifier, ""),
	term("extreme", classIntensifier, ""),
	term("sudden", classIntensifier, ""),
	term("suddenly", classIntensifier, ""),

	term("worried", classConcern, "worry"),
	term("worry", classConcern, "worry"),
	term("worrying", classConcern, "worry"),
	term("concerned", classConcern, "worry"),
	term("anxious", classConcern, "anxiety"),
	term("anxiety", classConcern, "anxiety"),
	term("scared", classConcern, "fear"),
	term("afraid", classConcern, "fear"),
	term("frightened", classConcern, "fear"),
	term("nervous", classConcern, "anxiety"),
	term("unsure", classConcern, "uncertainty"),
	term("help", classConcern, "help request"),

	term("pain", classNegative, "pain"),
	term("hurts", classNegative, "pain"),
	term("hurt", classNegative, "pain"),
	term("aching", classNegative, "pain"),
	term("sick", classNegative, "illness"),
	term("worse", classNegative, "deterioration"),
	term("terrible", classNegative, "distress"),
	term("awful", classNegative, "distress"),
	term("bad", classNegative, "distress"),
	term("frustrated", classNegative, "frustration"),
	term("angry", classNegative, "frustration"),
	term("upset", classNegative, "distress"),
	term("disappointed", classNegative, "frustration"),
	term("exhausted", classNegative, "fatigue"),
	term("tired", classNegative, "fatigue"),

	term("better", classPositive, "improvement"),
	term("improving", classPositive, "improvement"),
	term("improved", classPositive, "improvement"),
	term("good", classPositive, "wellbeing"),
	term("great", classPositive, "wellbeing"),
	term("fine", classPositive, "wellbeing"),
	term("relieved", classPositive, "relief"),
	term("happy", classPositive, "wellbeing"),
	term("thanks", classPositive, "gratitude"),
	term("thank", classPositive, "gratitude"),
	term("grateful", classPositive, "gratitude"),
}

var negators = map[string]bool{
	"no": true, "not": true, "never": true, "without": true, "denies": true,
	"don't": true, "didn't": true, "doesn't": true, "isn't": true, "wasn't": true,
	"haven't": true, "hasn't": true,
}

var clauseBreaks = map[string]bool{"but": true, "and": true, "however": true, "though": true}

const negationWindow = 3

type match struct {
	phrase  phrase
	negated bool
}

// Sentiment grades free text. Explicit severe-symptom language is always
// urgent with high urgency and confidence above 0.85.
func (s *Scorer) Sentiment(text string) SentimentScore {
	matches := scan(tokenize(text))

	var counts [classPositive + 1]int
	var themes []string
	seenTheme := make(map[string]bool)
	alarmThemes := make(map[string]bool)
	var matched []string

	for _, m := range matches {
		class := m.phrase.class
		if m.negated {
			// "not better" reads as negative; other negated terms drop out
			if class != classPositive {
				continue
			}
			class = classNegative
		}
		counts[class]++
		matched = append(matched, strings.Join(m.phrase.words, " "))
		if class == classAlarm {
			alarmThemes[m.phrase.theme] = true
		}
		if t := m.phrase.theme; t != "" && !seenTheme[t] && !m.negated {
			seenTheme[t] = true
			themes = append(themes, t)
		}
	}
	if themes == nil {
		themes = []string{}
	}

	out := SentimentScore{Themes: themes, Matches: matched}

	critical, alarm, intensifiers := counts[classCritical], counts[classAlarm], counts[classIntensifier]
	if critical > 0 || (alarm > 0 && intensifiers > 0) || len(alarmThemes) >= 2 {
		hits := critical + alarm + intensifiers
		out.Sentiment = model.SentimentUrgent
		out.Urgency = model.UrgencyHigh
		out.Confidence = round2(math.Min(0.88+0.03*float64(hits-1), 0.97))
		out.Summary = summary("Urgent", themes)
		return out
	}

	concern := counts[classConcern] + alarm
	negative := counts[classNegative]
	positive := counts[classPositive]
	total := concern + negative + positive

	out.Urgency = model.UrgencyLow
	if alarm > 0 || intensifiers > 0 {
		out.Urgency = model.UrgencyMedium
	}

	if total == 0 {
		out.Sentiment = model.SentimentNeutral
		out.Confidence = 0.6
		out.Summary = summary("Neutral", themes)
		return out
	}

	top := concern
	out.Sentiment = model.SentimentConcerned
	if negative > top {
		top = negative
		out.Sentiment = model.SentimentNegative
	}
	if positive > top {
		top = positive
		out.Sentiment = model.SentimentPositive
	}
	if out.Sentiment == model.SentimentConcerned && out.Urgency == model.UrgencyLow && counts[classConcern] > 1 {
		out.Urgency = model.UrgencyMedium
	}

	out.Confidence = round2(math.Min(0.5+0.35*float64(top)/float64(total), 0.85))
	out.Summary = summary(strings.ToUpper(string(out.Sentiment[:1]))+string(out.Sentiment[1:]), themes)
	return out
}

func summary(label string, themes []string) string {
	if len(themes) == 0 {
		return label + " message with no notable themes."
	}
	return fmt.Sprintf("%s message mentioning %s.", label, strings.Join(themes, ", "))
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	text = strings.NewReplacer("’", "'", "‘", "'").Replace(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// scan finds lexicon phrases left to right. A token consumed by a longer
// phrase is not matched again by a shorter one starting at the same place.
func scan(tokens []string) []match {
	var out []match
	for i := 0; i < len(tokens); i++ {
		for _, ph := range lexicon {
			if !hasPrefix(tokens[i:], ph.words) {
				continue
			}
			out = append(out, match{phrase: ph, negated: negatedAt(tokens, i)})
			i += len(ph.words) - 1
			break
		}
	}
	return out
}

func hasPrefix(tokens, words []string) bool {
	if len(tokens) < len(words) {
		return false
	}
	for i, w := range words {
		if tokens[i] != w {
			return false
		}
	}
	return true
}

func negatedAt(tokens []string, i int) bool {
	for j := i - 1; j >= 0 && j >= i-negationWindow; j-- {
		if clauseBreaks[tokens[j]] {
			return false
		}
		if negators[tokens[j]] {
			return true
		}
	}
	return false
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
