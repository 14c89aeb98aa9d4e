package install

import (
	"context"

	"github.com/aymanbagabas/go-udiff"
)

// Choice is a user decision about one conflicting file
type Choice int

// Conflict resolutions
const (
	ChoiceSkip Choice = iota
	ChoiceUpdate
	ChoiceDiff
	ChoiceUpdateAll
	ChoiceSkipAll
)

func (c Choice) String() string {
	switch c {
	case ChoiceUpdate:
		return "update"
	case ChoiceDiff:
		return "diff"
	case ChoiceUpdateAll:
		return "update-all"
	case ChoiceSkipAll:
		return "skip-all"
	default:
		return "skip"
	}
}

// ConflictResolver decides interactive conflicts. Resolve may return
// ChoiceDiff any number of times; ShowDiff is then called with the unified
// diff from the on-disk file to the new build and Resolve is asked again.
type ConflictResolver interface {
	Resolve(ctx context.Context, c *Conflict) (Choice, error)
	ShowDiff(c *Conflict, diff string)
}

// Diff renders the unified diff from the file on disk to the new build output
func Diff(path string, onDisk, built []byte) string {
	return udiff.Unified("installed/"+path, "build/"+path, string(onDisk), string(built))
}

// sticky remembers an update-all or skip-all answer for the rest of a run
type sticky struct {
	resolver ConflictResolver
	decided  *Choice
}

func (s *sticky) resolve(ctx context.Context, c *Conflict, onDisk, built []byte) (bool, error) {
	if s.decided != nil {
		return *s.decided == ChoiceUpdate, nil
	}
	for {
		choice, err := s.resolver.Resolve(ctx, c)
		if err != nil {
			return false, err
		}
		switch choice {
		case ChoiceDiff:
			s.resolver.ShowDiff(c, Diff(c.Path, onDisk, built))
		case ChoiceUpdateAll:
			update := ChoiceUpdate
			s.decided = &update
			return true, nil
		case ChoiceSkipAll:
			skip := ChoiceSkip
			s.decided = &skip
			return false, nil
		case ChoiceUpdate:
			return true, nil
		default:
			return false, nil
		}
	}
}
