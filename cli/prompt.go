package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.hackfix.me/docmig/migration"
)

// Prompter asks yes/no questions on a terminal.
type Prompter struct {
	r *bufio.Reader
	w io.Writer
}

var _ migration.Confirmer = (*Prompter)(nil)

// NewPrompter returns a Prompter that writes questions to w, and reads
// answers from r.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{r: bufio.NewReader(r), w: w}
}

// Confirm implements migration.Confirmer. Only "y" and "yes" are accepted as
// confirmation; no answer at all is a refusal.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err //nolint:wrapcheck // The context error is enough.
	}
	if _, err := fmt.Fprintf(p.w, "%s [y/N] ", question); err != nil {
		return false, fmt.Errorf("failed writing question: %w", err)
	}

	answer, err := p.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed reading answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
