package discovery

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"contactgraph/backend/internal/domain"
	apperrors "contactgraph/backend/pkg/errors"
)

var validate = validator.New()

// Options tune a discovery run. Zero values fall back to defaults.
type Options struct {
	IncludeSemantic bool `json:"include_semantic"`
	// MinTagSimilarity is the lowest Jaccard score that yields a SHARES_TAGS candidate.
	MinTagSimilarity float64 `json:"min_tag_similarity" validate:"gte=0,lte=1"`
	// MinSemanticSimilarity is the lowest cosine score that yields a SIMILAR_TO candidate.
	MinSemanticSimilarity float64 `json:"min_semantic_similarity" validate:"gte=0,lte=1"`
	// FullTagScan compares every pair instead of only pairs sharing a tag.
	FullTagScan bool `json:"full_tag_scan"`
	// MaxContacts rejects larger inputs. Zero means unlimited.
	MaxContacts int `json:"max_contacts" validate:"gte=0"`
}

// DefaultMinTagSimilarity is used when Options.MinTagSimilarity is zero.
const DefaultMinTagSimilarity = 0.3

func (o Options) withDefaults() Options {
	if o.MinTagSimilarity == 0 {
		o.MinTagSimilarity = DefaultMinTagSimilarity
	}
	if o.MinSemanticSimilarity == 0 {
		o.MinSemanticSimilarity = domain.LowConfidence
	}
	return o
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return apperrors.NewInputValidation("options."+toSnake(fe.Field()),
				fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param()))
		}
		return apperrors.NewInputValidation("options", err.Error())
	}
	return nil
}

// ValidateInput rejects contact sets the engine cannot process: empty or
// duplicate ids, and contacts owned by another user.
func ValidateInput(userID string, contacts []domain.Contact, opts Options) error {
	if userID == "" {
		return apperrors.NewInputValidation("user_id", "is required")
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.MaxContacts > 0 && len(contacts) > opts.MaxContacts {
		return apperrors.NewInputValidation("contacts",
			fmt.Sprintf("%d contacts exceed max_contacts %d", len(contacts), opts.MaxContacts))
	}
	seen := make(map[string]bool, len(contacts))
	for i, c := range contacts {
		if strings.TrimSpace(c.ID) == "" {
			return apperrors.NewInputValidation(fmt.Sprintf("contacts[%d].id", i), "is required")
		}
		if seen[c.ID] {
			return apperrors.NewInputValidation(fmt.Sprintf("contacts[%d].id", i),
				fmt.Sprintf("duplicate contact id %q", c.ID))
		}
		seen[c.ID] = true
		if c.UserID != "" && c.UserID != userID {
			return apperrors.NewInputValidation(fmt.Sprintf("contacts[%d].user_id", i),
				"belongs to a different user")
		}
	}
	return nil
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
