package workflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/digkill/TGImageBot/internal/models"
)

const (
	MinPromptLength = 3
	MaxPromptLength = 1000
	MaxReward       = 50

	// MaxCardDescriptionLength leaves room for the card prompt template.
	MaxCardDescriptionLength = 500
)

var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ValidatePrompt trims s and enforces the prompt length bounds.
func ValidatePrompt(s string) (string, error) {
	return lengthBetween(MinPromptLength, MaxPromptLength)(s)
}

func lengthBetween(minLen, maxLen int) func(string) (string, error) {
	return func(s string) (string, error) {
		s = strings.TrimSpace(s)
		n := utf8.RuneCountInString(s)
		if n < minLen {
			return "", invalid("too short: %d < %d", n, minLen)
		}
		if n > maxLen {
			return "", invalid("too long: %d > %d", n, maxLen)
		}
		return s, nil
	}
}

var platforms = map[string]string{
	"wb":          "wb",
	"wildberries": "wb",
	"вб":          "wb",
	"ozon":        "ozon",
	"озон":        "ozon",
	"yandex":      "yandex",
	"яндекс":      "yandex",
	"ym":          "yandex",
}

func validatePlatform(s string) (string, error) {
	if p, ok := platforms[strings.ToLower(strings.TrimSpace(s))]; ok {
		return p, nil
	}
	return "", invalid("unknown platform %q", s)
}

func validatePrice(s string) (string, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	s = strings.TrimSpace(strings.TrimSuffix(s, "₽"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return "", invalid("price must be a positive number")
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

// NormalizeToken strips whitespace and the optional "key-" prefix.
func NormalizeToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 4 && strings.EqualFold(s[:4], "key-") {
		s = s[4:]
	}
	return strings.TrimSpace(s)
}

func validateToken(s string) (string, error) {
	token := NormalizeToken(s)
	if token == "" || strings.ContainsAny(token, " \n\t") || len(token) > 64 {
		return "", invalid("malformed key")
	}
	return token, nil
}

func validateNonNegativeInt(s string) (string, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 {
		return "", invalid("expected a non-negative integer")
	}
	return strconv.Itoa(v), nil
}

// ParseRewards parses "<gen> <edit>" referral rewards.
func ParseRewards(s string) (gen, edit int, err error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return 0, 0, invalid("expected two numbers")
	}
	gen, err1 := strconv.Atoi(parts[0])
	edit, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, invalid("rewards must be integers")
	}
	if gen < 0 || gen > MaxReward || edit < 0 || edit > MaxReward {
		return 0, 0, invalid("rewards must be within 0..%d", MaxReward)
	}
	return gen, edit, nil
}

func validateRewards(s string) (string, error) {
	gen, edit, err := ParseRewards(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d", gen, edit), nil
}

// PlanSettings is the operator input for a plan update.
type PlanSettings struct {
	PriceRub     int
	GenQuota     models.Quota
	EditQuota    models.Quota
	DurationDays int
}

// ParseQuotaSpec accepts "N" (daily), "N/h" (hourly) and "inf" (unbounded).
func ParseQuotaSpec(s string) (models.Quota, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "inf", "∞", "unlimited", "безлимит":
		return models.Unbounded(), nil
	}
	hourly := false
	for _, suffix := range []string{"/h", "/ч"} {
		if strings.HasSuffix(s, suffix) {
			hourly = true
			s = strings.TrimSuffix(s, suffix)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return models.Quota{}, invalid("bad quota %q", s)
	}
	if hourly {
		return models.Hourly(n), nil
	}
	return models.Daily(n), nil
}

// ParsePlanSettings parses "<price> <gen quota> <edit quota> <days>".
func ParsePlanSettings(s string) (PlanSettings, error) {
	parts := strings.Fields(s)
	if len(parts) != 4 {
		return PlanSettings{}, invalid("expected: price gen edit days")
	}
	price, err := strconv.Atoi(parts[0])
	if err != nil || price <= 0 {
		return PlanSettings{}, invalid("price must be positive")
	}
	gen, err := ParseQuotaSpec(parts[1])
	if err != nil {
		return PlanSettings{}, err
	}
	edit, err := ParseQuotaSpec(parts[2])
	if err != nil {
		return PlanSettings{}, err
	}
	days, err := strconv.Atoi(parts[3])
	if err != nil || days <= 0 {
		return PlanSettings{}, invalid("days must be positive")
	}
	return PlanSettings{PriceRub: price, GenQuota: gen, EditQuota: edit, DurationDays: days}, nil
}

func validatePlanSettings(s string) (string, error) {
	if _, err := ParsePlanSettings(s); err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(s), " "), nil
}
