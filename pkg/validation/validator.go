// Package validation normalises wallet addresses and sanitises free text entered by users.
package validation

import (
	"fmt"
	"html"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/models"
)

var (
	walletRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	phoneRegex  = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// Validator provides struct validation and text sanitisation
type Validator struct {
	validator *validator.Validate
	logger    *zap.Logger
	sanitizer *bluemonday.Policy
}

// NewValidator creates a validator with the registry's custom tags
func NewValidator(logger *zap.Logger) *Validator {
	v := &Validator{
		validator: validator.New(),
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}
	v.registerCustomValidators()
	return v
}

// ErrValidation is returned by ValidateStruct with one detail per failed field
var ErrValidation = errors.Invalid.Explain("Request validation failed")

// ValidateStruct checks the validate tags of a request struct. Failures come
// back as ErrValidation carrying the json names of the offending fields.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ErrValidation.Wrap(err)
	}
	out := ErrValidation.Explain("%s", v.getErrorMessage(fieldErrs[0]))
	for _, fe := range fieldErrs {
		out = out.WithField(fe.Tag(), fe.Field(), v.getErrorMessage(fe))
	}
	v.logger.Debug("Request failed validation", zap.Int("fields", len(fieldErrs)), zap.String("first", fieldErrs[0].Field()))
	return out
}

// Sanitize strips markup from user text. The policy escapes what it keeps,
// so the result is unescaped again: text is stored as typed and escaped by
// whatever renders it.
func (v *Validator) Sanitize(input string) string {
	if input == "" {
		return input
	}
	out := input
	// entity encoded markup only becomes a tag after unescaping
	for i := 0; i < 3; i++ {
		next := html.UnescapeString(v.sanitizer.Sanitize(out))
		if next == out {
			break
		}
		out = next
	}
	return strings.TrimSpace(out)
}

// SanitizePtr sanitises an optional field; blank results become nil.
func (v *Validator) SanitizePtr(input *string) *string {
	if input == nil {
		return nil
	}
	s := v.Sanitize(*input)
	if s == "" {
		return nil
	}
	return &s
}

// NormalizeWallet checks an EVM address and returns it lower-cased.
func NormalizeWallet(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !walletRegex.MatchString(address) || !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid wallet address %q", address)
	}
	return strings.ToLower(address), nil
}

// NormalizePhone removes separators and checks the remaining digits
func NormalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	phone = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(phone)
	if !phoneRegex.MatchString(phone) {
		return "", fmt.Errorf("invalid phone number format, should be +254712345678")
	}
	return phone, nil
}

// LengthBetween counts runes, not bytes
func LengthBetween(s string, min, max int) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	return n >= min && n <= max
}

func (v *Validator) registerCustomValidators() {
	v.validator.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})

	_ = v.validator.RegisterValidation("parcel_status", func(fl validator.FieldLevel) bool {
		return models.ParcelStatus(fl.Field().String()).Valid()
	})
	_ = v.validator.RegisterValidation("listing_type", func(fl validator.FieldLevel) bool {
		return models.ListingType(fl.Field().String()).Valid()
	})
	_ = v.validator.RegisterValidation("lease_period", func(fl validator.FieldLevel) bool {
		return models.LeasePeriod(fl.Field().String()).Valid()
	})
	_ = v.validator.RegisterValidation("objection_status", func(fl validator.FieldLevel) bool {
		return models.ObjectionStatus(fl.Field().String()).Valid()
	})
	_ = v.validator.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		raw := fl.Field().String()
		if strings.TrimSpace(raw) == "" {
			return true
		}
		_, err := NormalizePhone(raw)
		return err == nil
	})
	// query filters are case-insensitive and accept ALL
	_ = v.validator.RegisterValidation("parcel_filter", func(fl validator.FieldLevel) bool {
		s := strings.ToUpper(strings.TrimSpace(fl.Field().String()))
		return s == "" || s == "ALL" || models.ParcelStatus(s).Valid()
	})
	_ = v.validator.RegisterValidation("listing_filter", func(fl validator.FieldLevel) bool {
		s := strings.ToUpper(strings.TrimSpace(fl.Field().String()))
		return s == "" || s == "ALL" || models.ListingType(s).Valid()
	})
}

func (v *Validator) getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a URL", fe.Field())
	case "parcel_status":
		return fmt.Sprintf("%s must be UNCLAIMED or OWNED", fe.Field())
	case "listing_type":
		return fmt.Sprintf("%s must be SALE or LEASE", fe.Field())
	case "lease_period":
		return fmt.Sprintf("%s must be 1_MONTH, 6_MONTHS or 12_MONTHS", fe.Field())
	case "objection_status":
		return fmt.Sprintf("%s must be PENDING, REVIEWED or RESOLVED", fe.Field())
	case "phone":
		return fmt.Sprintf("%s must be a phone number such as +254712345678", fe.Field())
	case "parcel_filter":
		return fmt.Sprintf("%s must be ALL, UNCLAIMED or OWNED", fe.Field())
	case "listing_filter":
		return fmt.Sprintf("%s must be ALL, SALE or LEASE", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
