package patch

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ChangeStats counts added and removed lines between two file versions. Used
// for audit logging after a model-mediated apply, where the diff text alone
// does not prove what actually changed on disk.
func ChangeStats(before, after string) (additions, deletions int) {
	dmp := diffmatchpatch.New()
	beforeRunes, afterRunes, lineArray := dmp.DiffLinesToRunes(before, after)
	diffs := dmp.DiffMainRunes(beforeRunes, afterRunes, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if n == 0 && d.Text != "" {
			n = 1
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += n
		case diffmatchpatch.DiffDelete:
			deletions += n
		}
	}
	return additions, deletions
}
