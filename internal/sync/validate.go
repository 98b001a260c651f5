package sync

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/JohanCodinha/reportsync/internal/store"
)

// categoryMapping converts the offline form vocabulary to backend category values.
var categoryMapping = map[string]string{
	"pothole":       "pothole",
	"streetlight":   "street_lighting",
	"water-supply":  "water_supply",
	"traffic-light": "traffic_signal",
	"drainage":      "drainage",
	"road-damage":   "sidewalk",
	"other":         "other",
}

// MapCategory returns the backend category for a form category. Backend
// values pass through and anything unknown becomes "other".
func MapCategory(category string) string {
	key := strings.ToLower(strings.TrimSpace(category))
	if mapped, ok := categoryMapping[key]; ok {
		return mapped
	}
	for _, canonical := range categoryMapping {
		if key == canonical {
			return canonical
		}
	}
	return "other"
}

// issueRules holds the length limits, counted in characters.
type issueRules struct {
	Title       string `validate:"min=10,max=100"`
	Description string `validate:"min=20,max=1000"`
}

var validate = validator.New()

// validateIssue reports the first limit the issue breaks, title before description.
func validateIssue(issue store.IssueData) error {
	err := validate.Struct(issueRules{Title: issue.Title, Description: issue.Description})
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var msg string
	switch fieldErrs[0].Field() {
	case "Title":
		msg = fmt.Sprintf("Title must be between 10 and 100 characters (current: %d)", utf8.RuneCountInString(issue.Title))
	default:
		msg = fmt.Sprintf("Description must be between 20 and 1000 characters (current: %d)", utf8.RuneCountInString(issue.Description))
	}
	return &messageError{kind: ErrValidation, msg: msg}
}
