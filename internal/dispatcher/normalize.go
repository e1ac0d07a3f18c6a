package dispatcher

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/georgeshao/o2c-triage/pkg/formatting"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

var validate = validator.New()

// Normalize turns raw model text into a validated ClassificationResult.
// Every failure wraps formatting.ErrParseFailed.
func Normalize(raw string) (*types.ClassificationResult, error) {
	result, err := formatting.Parse[types.ClassificationResult](raw)
	if err != nil {
		return nil, err
	}

	if err := validate.Struct(result); err != nil {
		return nil, fmt.Errorf("%w: %w", formatting.ErrParseFailed, err)
	}

	result.Fill()
	return &result, nil
}
