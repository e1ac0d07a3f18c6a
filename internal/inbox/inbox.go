// Package inbox reads the batch input file.
package inbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/georgeshao/o2c-triage/pkg/types"
)

var ErrNoEmails = errors.New(`input has no "emails" list`)

// File is the on-disk input shape: {"emails": [...]}.
type File struct {
	Emails []types.Email `json:"emails"`
}

func Load(path string) ([]types.Email, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	emails, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return emails, nil
}

// Decode reads one input document from r.
func Decode(r io.Reader) ([]types.Email, error) {
	var file File
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode input: %w", err)
	}
	if file.Emails == nil {
		return nil, ErrNoEmails
	}
	return file.Emails, nil
}
