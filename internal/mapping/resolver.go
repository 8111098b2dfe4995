// Package mapping turns a lead and a tenant's portal field mapping into a
// fully parameterized submission URL.
package mapping

import (
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/lead-entry/internal/model"
)

// System parameters injected into every submission regardless of mapping.
const (
	ParamLeadID        = "service_leadid"
	ParamTransactionID = "pub_transaction_id"
	ParamSourceTag     = "source_service_trusted_form"
)

// DefaultRequiredFields are the internal fields that must carry data when mapped.
var DefaultRequiredFields = []string{
	model.FieldFirstName,
	model.FieldLastName,
	model.FieldEmail,
	model.FieldPhone,
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// phoneFields are internal fields reduced to digits and length-checked.
var phoneFields = map[string]bool{
	model.FieldPhone:          true,
	model.FieldAlternatePhone: true,
}

const minPhoneDigits = 10

// Policy decides which mapped fields are required.
type Policy struct {
	RequiredFields []string
}

// Resolver builds portal submissions.
type Resolver struct {
	policy    Policy
	sourceTag string
	required  map[string]bool
}

// NewResolver creates a Resolver. An empty required list falls back to
// DefaultRequiredFields.
func NewResolver(policy Policy, sourceTag string) *Resolver {
	if len(policy.RequiredFields) == 0 {
		policy.RequiredFields = DefaultRequiredFields
	}
	required := make(map[string]bool, len(policy.RequiredFields))
	for _, f := range policy.RequiredFields {
		required[f] = true
	}
	return &Resolver{policy: policy, sourceTag: sourceTag, required: required}
}

// Submission is a built portal request.
type Submission struct {
	URL           string
	Params        url.Values
	TransactionID string
}

// BuildSubmission validates the lead against the mapping and returns the
// submission URL. A non-empty error list means the lead must not be submitted,
// in which case the returned Submission is nil. The call performs no I/O and
// reads no clock, so identical inputs produce an identical URL.
func (r *Resolver) BuildSubmission(baseURL string, lead *model.Lead, fields model.FieldMapping, defaults map[string]string, at time.Time) (*Submission, []ValidationError) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, []ValidationError{{
			Code:    CodeInvalidField,
			Field:   "portal_url",
			Message: fmt.Sprintf("portal url %q is not absolute", baseURL),
		}}
	}

	params := base.Query()
	var errs []ValidationError

	// Walk the required policy first so errors come out in policy order.
	seen := make(map[string]bool, len(fields))
	for _, field := range r.policy.RequiredFields {
		param, ok := fields[field]
		if !ok || param == "" {
			continue
		}
		seen[field] = true
		value, verr := r.resolveField(lead, field, param)
		if verr != nil {
			errs = append(errs, *verr)
			continue
		}
		params.Set(param, value)
	}

	for _, field := range slices.Sorted(maps.Keys(fields)) {
		param := fields[field]
		if seen[field] || param == "" {
			continue
		}
		value, verr := r.resolveField(lead, field, param)
		if verr != nil {
			errs = append(errs, *verr)
			continue
		}
		if value != "" {
			params.Set(param, value)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	for key, value := range defaults {
		value = clean(value)
		if value == "" || params.Get(key) != "" {
			continue
		}
		params.Set(key, value)
	}

	source := clean(lead.Source)
	if source == "" {
		source = r.sourceTag
	}
	txID := fmt.Sprintf("%s_%d", lead.ID, at.UnixMilli())
	params.Set(ParamLeadID, lead.ID)
	params.Set(ParamTransactionID, txID)
	if source != "" {
		params.Set(ParamSourceTag, source)
	}

	base.RawQuery = params.Encode()
	return &Submission{URL: base.String(), Params: params, TransactionID: txID}, nil
}

// resolveField returns the cleaned value for one mapped field, or a
// validation error when the value is missing or malformed.
func (r *Resolver) resolveField(lead *model.Lead, field, param string) (string, *ValidationError) {
	value := clean(lead.Field(field))
	required := r.required[field]

	if value == "" {
		if required {
			return "", &ValidationError{
				Code:    CodeMissingField,
				Field:   param,
				Message: fmt.Sprintf("%s is required", describe(field)),
			}
		}
		return "", nil
	}

	if field == model.FieldEmail && !emailPattern.MatchString(value) {
		return "", &ValidationError{Code: CodeInvalidField, Field: param, Message: "invalid email format"}
	}

	if phoneFields[field] {
		digits := DigitsOnly(value)
		if len(digits) < minPhoneDigits {
			return "", &ValidationError{
				Code:    CodeInvalidField,
				Field:   param,
				Message: "phone number must be at least 10 digits",
			}
		}
		value = digits
	}
	return value, nil
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func clean(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func describe(field string) string {
	switch field {
	case model.FieldFirstName:
		return "first name"
	case model.FieldLastName:
		return "last name"
	case model.FieldEmail:
		return "email"
	case model.FieldPhone:
		return "phone number"
	default:
		return field
	}
}
