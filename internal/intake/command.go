package intake

import (
	"regexp"
	"strings"
)

// Intent is a control command recognized in user text, independent of the
// field-extraction service. Classification is pure pattern matching; which
// intents are probed, and in what order, is chosen by the caller per state.
type Intent int

const (
	IntentNone Intent = iota
	IntentConfirm
	IntentCancel
	IntentReset
	IntentResume
	IntentContinueThere
	IntentStartFresh
	IntentSubmitAsIs
	IntentSkip
	IntentDone
	IntentUnsure
	IntentDiscuss
	IntentNudge
)

var intentNames = map[Intent]string{
	IntentNone:          "none",
	IntentConfirm:       "confirm",
	IntentCancel:        "cancel",
	IntentReset:         "reset",
	IntentResume:        "resume",
	IntentContinueThere: "continue_there",
	IntentStartFresh:    "start_fresh",
	IntentSubmitAsIs:    "submit_as_is",
	IntentSkip:          "skip",
	IntentDone:          "done",
	IntentUnsure:        "unsure",
	IntentDiscuss:       "discuss",
	IntentNudge:         "nudge",
}

func (i Intent) String() string {
	if n, ok := intentNames[i]; ok {
		return n
	}
	return "unknown"
}

// AllIntents lists every intent, used when a caller needs to know whether
// text matches any command at all.
var AllIntents = []Intent{
	IntentConfirm, IntentCancel, IntentReset, IntentResume,
	IntentContinueThere, IntentStartFresh, IntentSubmitAsIs,
	IntentSkip, IntentDone, IntentUnsure, IntentDiscuss, IntentNudge,
}

// intentPatterns maps each intent to its anchored phrase patterns. Text is
// lowercased and trimmed before matching, with trailing punctuation allowed.
var intentPatterns = map[Intent][]*regexp.Regexp{
	IntentConfirm: compilePhrases(
		`yes`, `yep`, `yeah`, `yup`, `correct`, `confirm`, `confirmed`,
		`looks good`, `looks good to me`, `lgtm`, `that's right`, `thats right`,
		`good to go`, `go ahead`, `ship it`, `approved?`,
	),
	IntentCancel: compilePhrases(
		`cancel`, `cancel (it|this|that)`, `never ?mind`, `abort`, `stop`,
		`forget (it|this)`, `quit`, `exit`, `drop (it|this)`,
	),
	IntentReset: compilePhrases(
		`start over`, `start again`, `restart`, `reset`, `from scratch`,
		`redo`, `begin again`, `scrap (it|this) and start over`,
	),
	IntentResume: compilePhrases(
		`continue`, `resume`, `keep going`, `carry on`, `pick up`,
		`where (were we|was i)`, `back to it`,
	),
	IntentContinueThere: compilePhrases(
		`continue there`, `continue in the other thread`, `the other (one|thread)`,
		`use that one`, `that one`, `keep that one`, `there`, `over there`,
	),
	IntentStartFresh: compilePhrases(
		`start fresh`, `start fresh here`, `fresh`, `here`, `this one`,
		`new request`, `start (a )?new one`, `start new`,
	),
	IntentSubmitAsIs: compilePhrases(
		`submit as.?is`, `just submit( it)?`, `send it as.?is`, `submit it as.?is`,
		`good enough`, `submit what (we|you) have`,
	),
	IntentSkip: compilePhrases(
		`skip`, `skip (this|that|it)( one)?`, `pass`, `next`, `move on`, `n/?a`,
	),
	IntentDone: compilePhrases(
		`done`, `all done`, `that's (all|it|everything)`, `thats (all|it|everything)`,
		`finished`, `nothing else`, `no more`,
	),
	IntentUnsure: compilePhrases(
		`idk`, `i don'?t know`, `dunno`, `not sure`, `no idea`, `unsure`,
		`don'?t know`, `no clue`,
	),
	IntentDiscuss: compilePhrases(
		`discuss`, `discuss (it|this) later`, `discuss later`, `talk about (it|this)( later)?`,
		`flag (it|this)`, `come back to (it|this)`, `park (it|this)`,
	),
	IntentNudge: compilePhrases(
		`hello`, `hi`, `hey`, `ping`, `bump`, `anyone( there)?`,
		`(you |still )?there\??`, `\?+`, `knock knock`,
	),
}

// fillerPrefixes are leading conversational phrases stripped once before a
// second classification attempt when no direct match is found.
var fillerPrefixes = []string{
	"let's", "lets", "i'd like to", "i would like to", "i want to",
	"please", "can you", "could you", "can we", "ok,", "okay,", "ok", "okay",
	"actually", "hmm", "well",
}

// compilePhrases builds anchored, punctuation-tolerant patterns.
func compilePhrases(phrases ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, regexp.MustCompile(`^(?:`+p+`)[.!,? ]*$`))
	}
	return out
}

// Classify tests text against the given intents in order and returns the
// first that matches, or IntentNone. The probe order encodes the caller's
// per-state priority (e.g. in confirmation, cancel is checked before
// confirm). If nothing matches directly, one round of filler stripping is
// applied and the probe repeated.
func Classify(text string, order ...Intent) Intent {
	norm := normalizeCommand(text)
	if norm == "" {
		return IntentNone
	}
	if i := classifyNormalized(norm, order); i != IntentNone {
		return i
	}
	if stripped := stripFiller(norm); stripped != norm && stripped != "" {
		return classifyNormalized(stripped, order)
	}
	return IntentNone
}

// LooksCommandLike reports whether the message is short (at most four
// words) and matches any command pattern. Recovery uses this to exclude
// control chatter from field-extraction input; it never drives dispatch.
func LooksCommandLike(text string) bool {
	norm := normalizeCommand(text)
	if norm == "" {
		return false
	}
	if len(strings.Fields(norm)) > 4 {
		return false
	}
	if classifyNormalized(norm, AllIntents) != IntentNone {
		return true
	}
	stripped := stripFiller(norm)
	return stripped != norm && stripped != "" &&
		classifyNormalized(stripped, AllIntents) != IntentNone
}

func classifyNormalized(norm string, order []Intent) Intent {
	for _, intent := range order {
		for _, re := range intentPatterns[intent] {
			if re.MatchString(norm) {
				return intent
			}
		}
	}
	return IntentNone
}

func normalizeCommand(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// stripFiller removes one leading filler phrase, if present.
func stripFiller(norm string) string {
	for _, prefix := range fillerPrefixes {
		if strings.HasPrefix(norm, prefix+" ") {
			return strings.TrimSpace(norm[len(prefix):])
		}
	}
	return norm
}
