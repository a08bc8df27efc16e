package bot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/moodflow/backend/internal/mood"
)

const (
	callbackPrefix = "mood:"

	btnBad     = "😩 Tired"
	btnNeutral = "😐 So-so"
	btnGood    = "😄 Great"
	btnSkip    = "Skip"

	txtPickMood    = "How much cooking energy do you have today?"
	txtDeselected  = "Mood cleared. Pick one again whenever you like."
	txtReset       = "Mood cleared."
	txtBack        = "Back to the mood picker. Your mood is kept until you tap another one."
	txtIngredients = "Which ingredients do you have? Send them separated by commas."
	txtExpired     = "Your mood has expired. How are you feeling now?"
	txtNoMood      = "No mood picked yet. Send /mood to choose one."
	txtHint        = "Send /mood to pick how you feel, /status to see it, /back or /reset to change it."
	txtUnknownMood = "I don't know that mood."
)

var moodKeyboard = tgbotapi.NewInlineKeyboardMarkup(
	tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(btnBad, callbackPrefix+string(mood.Bad)),
		tgbotapi.NewInlineKeyboardButtonData(btnNeutral, callbackPrefix+string(mood.Neutral)),
		tgbotapi.NewInlineKeyboardButtonData(btnGood, callbackPrefix+string(mood.Good)),
	),
	tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(btnSkip, callbackPrefix+string(mood.Placeholder)),
	),
)

func introText(v mood.Value) string {
	switch v {
	case mood.Bad:
		return "Low on energy? Let's find something that almost cooks itself."
	case mood.Neutral:
		return "An ordinary day deserves an easy, honest dish."
	case mood.Good:
		return "Feeling great! Let's cook something fun."
	}
	return "Let's see what we can cook."
}

func statusText(v mood.Value, remaining time.Duration) string {
	if v == mood.Unset {
		return txtNoMood
	}
	remaining = remaining.Round(time.Minute)
	if remaining < time.Minute {
		return fmt.Sprintf("Current mood: %s. It expires in less than a minute.", v)
	}
	return fmt.Sprintf("Current mood: %s. It expires in %s.", v, strings.TrimSuffix(remaining.String(), "0s"))
}

// parseIngredients splits free text into a cleaned, de-duplicated list.
func parseIngredients(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})

	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		item := strings.ToLower(strings.Join(strings.Fields(f), " "))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
