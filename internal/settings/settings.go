// Package settings holds the display and scheduling preferences edited from
// the web UI. Settings live in a JSON file next to the snapshot; edits made
// through the API or directly on disk are validated, then fanned out to
// subscribers such as the refresh scheduler.
package settings

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid settings")

// Settings are the user-editable preferences.
type Settings struct {
	ChartTitle            string `json:"chartTitle" validate:"max=120"`
	HeaderColor           string `json:"headerColor" validate:"omitempty,hexcolor"`
	LogoPath              string `json:"logoPath" validate:"max=512"`
	UpdateTime            string `json:"updateTime" validate:"required,datetime=15:04"`
	AutoUpdateEnabled     bool   `json:"autoUpdateEnabled"`
	HighlightNewEmployees bool   `json:"highlightNewEmployees"`
	NewEmployeeMonths     int    `json:"newEmployeeMonths" validate:"min=0,max=120"`
	// CollapseLevel is the initial expanded depth, or "all".
	CollapseLevel    string `json:"collapseLevel" validate:"omitempty,oneof=all 1 2 3 4 5 6 7 8 9 10"`
	ShowDepartments  bool   `json:"showDepartments"`
	SearchAutoExpand bool   `json:"searchAutoExpand"`
}

// Defaults returns the settings served before anything is saved.
func Defaults() Settings {
	return Settings{
		ChartTitle:            "Organization Chart",
		HeaderColor:           "#0078d4",
		LogoPath:              "/static/icon.png",
		UpdateTime:            "20:00",
		AutoUpdateEnabled:     true,
		HighlightNewEmployees: true,
		NewEmployeeMonths:     3,
		CollapseLevel:         "2",
		ShowDepartments:       true,
		SearchAutoExpand:      true,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field and reports all failures at once.
func (s Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "hexcolor":
		return fe.Field() + " must be a hex color such as #0078d4"
	case "datetime":
		return fe.Field() + " must be HH:MM"
	case "min", "max":
		return fmt.Sprintf("%s must be %s %s", fe.Field(), map[string]string{"min": "at least", "max": "at most"}[fe.Tag()], fe.Param())
	case "oneof":
		return fe.Field() + " must be one of " + fe.Param()
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
