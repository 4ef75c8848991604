package funnel

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
)

var goalAliases = map[string]Goal{
	"ege":          GoalEGE,
	"егэ":          GoalEGE,
	"oge":          GoalOGE,
	"огэ":          GoalOGE,
	"olympiad":     GoalOlympiad,
	"олимп":        GoalOlympiad,
	"олимпиада":    GoalOlympiad,
	"camp":         GoalCamp,
	"лагерь":       GoalCamp,
	"base":         GoalBase,
	"база":         GoalBase,
	"успеваемость": GoalBase,
	"intensive":    GoalIntensive,
	"интенсив":     GoalIntensive,
}

var subjectAliases = map[string]Subject{
	"math":        SubjectMath,
	"математика":  SubjectMath,
	"physics":     SubjectPhysics,
	"физика":      SubjectPhysics,
	"informatics": SubjectInformatics,
	"информатика": SubjectInformatics,
	"any":         SubjectAny,
	"не важно":    SubjectAny,
	"любой":       SubjectAny,
}

var formatAliases = map[string]Format{
	"online":    FormatOnline,
	"онлайн":    FormatOnline,
	"offline":   FormatOffline,
	"очно":      FormatOffline,
	"hybrid":    FormatHybrid,
	"смешанный": FormatHybrid,
}

var brandAliases = map[string]string{
	"kmipt": "kmipt",
	"фотон": "foton",
	"foton": "foton",
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func ParseGoal(s string) (Goal, bool) {
	g, ok := goalAliases[key(s)]
	return g, ok
}

func ParseSubject(s string) (Subject, bool) {
	v, ok := subjectAliases[key(s)]
	return v, ok
}

func ParseFormat(s string) (Format, bool) {
	f, ok := formatAliases[key(s)]
	return f, ok
}

// NormalizeBrand returns the canonical brand or "" when unknown.
func NormalizeBrand(s string) string {
	return brandAliases[key(s)]
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseGrade extracts a grade 1..11 from free text such as "10 класс".
func parseGrade(s string) (int, bool) {
	digits := digitsOf(s)
	if digits == "" || len(digits) > 2 {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 || n > 11 {
		return 0, false
	}
	return n, true
}

// MinContactDigits is the loose phone plausibility threshold.
const MinContactDigits = 10

func parseContact(s string) (string, bool) {
	stripped := strings.TrimSpace(s)
	if stripped == "" {
		return "", false
	}
	if len(digitsOf(stripped)) < MinContactDigits {
		return "", false
	}
	return stripped, true
}

// parseStartPayload reads the brand from a /start deep-link argument. The
// argument is either a bare brand ("foton") or base64url compact JSON
// carrying {"b": "<brand>"}.
func parseStartPayload(arg string) string {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return ""
	}
	if b := NormalizeBrand(arg); b != "" {
		return b
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(arg, "="))
	if err != nil {
		return ""
	}
	var compact struct {
		Brand string `json:"b"`
	}
	if err := json.Unmarshal(raw, &compact); err != nil {
		return ""
	}
	return NormalizeBrand(compact.Brand)
}
