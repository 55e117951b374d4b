package human

import (
	"context"
	"fmt"
	"time"
)

// Keyboard is the subset of a page the typist drives.
type Keyboard interface {
	InsertText(ctx context.Context, text string) error
	Backspace(ctx context.Context) error
}

// Typist types text one rune at a time with a random delay between
// keystrokes. With probability TypoProbability it first types a wrong
// letter, pauses, and erases it before typing the intended rune, so the
// committed text always equals the input.
type Typist struct {
	Sleeper         *Sleeper
	KeyDelay        Range
	NoticeDelay     Range
	TypoProbability float64
}

// NewTypist returns a Typist with keystroke delays of 50–150ms.
func NewTypist(s *Sleeper, typoProbability float64) *Typist {
	return &Typist{
		Sleeper:         s,
		KeyDelay:        R(50*time.Millisecond, 150*time.Millisecond),
		NoticeDelay:     R(150*time.Millisecond, 400*time.Millisecond),
		TypoProbability: typoProbability,
	}
}

// Type sends text through kb.
func (t *Typist) Type(ctx context.Context, kb Keyboard, text string) error {
	for _, r := range text {
		if t.Sleeper.Chance(t.TypoProbability) {
			if err := kb.InsertText(ctx, string(t.Sleeper.Rune(r))); err != nil {
				return fmt.Errorf("human: type: %w", err)
			}
			if err := t.Sleeper.In(ctx, t.NoticeDelay); err != nil {
				return err
			}
			if err := kb.Backspace(ctx); err != nil {
				return fmt.Errorf("human: correct typo: %w", err)
			}
			if err := t.Sleeper.In(ctx, t.KeyDelay); err != nil {
				return err
			}
		}
		if err := kb.InsertText(ctx, string(r)); err != nil {
			return fmt.Errorf("human: type: %w", err)
		}
		if err := t.Sleeper.In(ctx, t.KeyDelay); err != nil {
			return err
		}
	}
	return nil
}
