package broadcast

import (
	"errors"
	"net/url"
	"strings"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// Request limits, in characters.
const (
	MaxTitleLength = 200
	MaxBodyLength  = 1000
	MaxURLLength   = 2048
)

type requestRules struct {
	Title    string `validate:"required,max=200"`
	Body     string `validate:"required,max=1000"`
	URL      string `validate:"omitempty,max=2048,target_url"`
	Audience string `validate:"audience"`
}

var requestErrors = map[string]map[string]*ValidationError{
	"Title": {"required": ErrEmptyTitle, "max": ErrTitleTooLong},
	"Body":  {"required": ErrEmptyBody, "max": ErrBodyTooLong},
}

func newRequestValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("audience", func(fl validator.FieldLevel) bool {
		return domain.AudienceKind(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("target_url", func(fl validator.FieldLevel) bool {
		return isTargetURL(fl.Field().String())
	})
	return v
}

// normalizeRequest trims and NFC-normalizes free text so length checks count
// what the recipient sees.
func normalizeRequest(req domain.BroadcastRequest) domain.BroadcastRequest {
	req.Title = norm.NFC.String(strings.TrimSpace(req.Title))
	req.Body = norm.NFC.String(strings.TrimSpace(req.Body))
	req.URL = strings.TrimSpace(req.URL)
	return req
}

// validateRequest returns the first *ValidationError that applies to req.
func (s *Service) validateRequest(req domain.BroadcastRequest) error {
	err := s.validator.Struct(requestRules{
		Title:    req.Title,
		Body:     req.Body,
		URL:      req.URL,
		Audience: string(req.Audience),
	})
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]
	switch fe.Field() {
	case "Audience":
		return ErrInvalidAudience
	case "URL":
		return ErrInvalidURL
	}
	if byTag, ok := requestErrors[fe.Field()]; ok {
		if vErr, ok := byTag[fe.Tag()]; ok {
			return vErr
		}
	}
	return err
}

func isTargetURL(raw string) bool {
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
