package dispatcher

import "strings"

// Ladder is the ordered list of model variants, most preferred first.
type Ladder struct {
	models []string
}

func NewLadder(models []string) (*Ladder, error) {
	kept := make([]string, 0, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoModels
	}
	return &Ladder{models: kept}, nil
}

func (l *Ladder) Models() []string {
	return append([]string(nil), l.models...)
}
