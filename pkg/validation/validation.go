// Package validation registers the request validators used by gin bindings and
// renders their failures as readable messages.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/qbox-app/backend/internal/models"
)

// custom validation tags & texts
const (
	RoomCodeTag  = "roomcode"
	roomCodeText = "{0} must be 6 letters or digits"

	NotBlankTag  = "notblank"
	notBlankText = "{0} must not be blank"
)

var (
	once       sync.Once
	registered error
	translator ut.Translator
)

// Register installs the custom tags on gin's validator engine. Safe to call more than once.
func Register() error {
	once.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registered = errors.New("gin validator engine is not validator/v10")
			return
		}
		registered = register(v)
	})
	return registered
}

func register(v *validator.Validate) error {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(v, translator); err != nil {
		return fmt.Errorf("register translations: %w", err)
	}

	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation(RoomCodeTag, roomCode); err != nil {
		return fmt.Errorf("register %s: %w", RoomCodeTag, err)
	}
	if err := v.RegisterValidation(NotBlankTag, notBlank); err != nil {
		return fmt.Errorf("register %s: %w", NotBlankTag, err)
	}
	for tag, text := range map[string]string{RoomCodeTag: roomCodeText, NotBlankTag: notBlankText} {
		tag, text := tag, text
		err := v.RegisterTranslation(tag, translator,
			func(t ut.Translator) error { return t.Add(tag, text, true) },
			func(t ut.Translator, fe validator.FieldError) string {
				s, _ := t.T(tag, fe.Field())
				return s
			},
		)
		if err != nil {
			return fmt.Errorf("register %s translation: %w", tag, err)
		}
	}
	return nil
}

// roomCode accepts join codes in any case; handlers upper-case before lookup.
func roomCode(fl validator.FieldLevel) bool {
	return models.IsValidRoomCode(strings.ToUpper(strings.TrimSpace(fl.Field().String())))
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Message turns a binding error into a single line. Validation failures are
// translated field by field; anything else (malformed JSON) is returned as is.
func Message(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || translator == nil {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(translator))
	}
	return strings.Join(msgs, "; ")
}
