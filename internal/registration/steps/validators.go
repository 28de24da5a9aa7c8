package steps

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"examtrack/internal/registration/models"
)

var (
	validate   *validator.Validate
	translator ut.Translator

	subdomainTag = "subdomain"
	intlPhoneTag = "intl_phone"

	subdomainRe = regexp.MustCompile(`^[a-z0-9-]+$`)
	intlPhoneRe = regexp.MustCompile(`^\+?[0-9][0-9 .()-]{6,19}$`)
)

func init() {
	validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names in error maps instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(subdomainTag, func(fl validator.FieldLevel) bool {
		return subdomainRe.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation(intlPhoneTag, func(fl validator.FieldLevel) bool {
		return intlPhoneRe.MatchString(fl.Field().String())
	})

	registerMessage(subdomainTag, "{0} may only contain lowercase letters, digits, and hyphens")
	registerMessage(intlPhoneTag, "{0} must be a valid international phone number")
}

func registerMessage(tag, message string) {
	_ = validate.RegisterTranslation(tag, translator,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
}

// check runs the validator on a snapshot struct and collects translated
// messages by field. The first failing rule per field wins, matching how
// the wizard surfaces one message per input.
func check(snapshot any) FieldErrors {
	out := FieldErrors{}
	err := validate.Struct(snapshot)
	if err == nil {
		return out
	}
	var verrs validator.ValidationErrors
	if ve, ok := err.(validator.ValidationErrors); ok {
		verrs = ve
	} else {
		out["_"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		if _, seen := out[fe.Field()]; !seen {
			out[fe.Field()] = fe.Translate(translator)
		}
	}
	return out
}

type preRegistrationSnapshot struct {
	Email     string `json:"email" validate:"required,email"`
	Subdomain string `json:"subdomain" validate:"required,min=3,subdomain"`
}

func validatePreRegistration(s *models.Session, _ Input) FieldErrors {
	var snap preRegistrationSnapshot
	if s.Promoter != nil {
		snap.Email = s.Promoter.Email
	}
	if s.School != nil {
		snap.Subdomain = s.School.Subdomain
	}
	return check(snap)
}

func validateEmailVerification(s *models.Session, _ Input) FieldErrors {
	// The six-digit code itself is checked against the issued code by the
	// verification service; the gate here is the recorded outcome.
	if s.Promoter == nil || !s.Promoter.EmailVerified {
		return FieldErrors{"code": "email must be verified before continuing"}
	}
	return FieldErrors{}
}

type profileSnapshot struct {
	FirstName       string `json:"first_name" validate:"required"`
	LastName        string `json:"last_name" validate:"required"`
	Phone           string `json:"phone" validate:"required,intl_phone"`
	Password        string `json:"password" validate:"omitempty,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"eqfield=Password"`
	SchoolName      string `json:"school_name" validate:"required"`
	SchoolType      string `json:"school_type" validate:"required"`
	Country         string `json:"country" validate:"required"`
	City            string `json:"city" validate:"required"`
	Address         string `json:"address" validate:"required"`
}

func validateProfile(s *models.Session, in Input) FieldErrors {
	var snap profileSnapshot
	passwordSet := false
	if s.Promoter != nil {
		snap.FirstName = s.Promoter.FirstName
		snap.LastName = s.Promoter.LastName
		snap.Phone = s.Promoter.Phone
		passwordSet = s.Promoter.PasswordHash != ""
	}
	if s.School != nil {
		snap.SchoolName = s.School.Name
		snap.SchoolType = s.School.Type
		snap.Country = s.School.Country
		snap.City = s.School.City
		snap.Address = s.School.Address
	}
	snap.Password = in.Password
	snap.PasswordConfirm = in.PasswordConfirm

	out := check(snap)

	// A password must exist, either set earlier this session or supplied
	// with this advance attempt.
	if in.Password == "" && !passwordSet {
		if _, seen := out["password"]; !seen {
			out["password"] = "password is a required field"
		}
	}
	return out
}

func validatePlanSelection(s *models.Session, _ Input) FieldErrors {
	if s.Plan == nil || s.Plan.ID.IsNil() {
		return FieldErrors{"plan": "a subscription plan must be selected"}
	}
	return FieldErrors{}
}
