package command

import (
	"strings"

	"github.com/alessio/shellescape"
)

// Quoter escapes a single argument for safe inclusion in a shell command
// string, and joins an argv slice into one. Used by template assembly
// (ProcessPromise) and by the SSH adapter to turn an Exec argv into the
// command string the wire protocol always sends.
type Quoter interface {
	// Quote escapes a single token.
	Quote(arg string) string
	// Join quotes and space-joins argv into one command string.
	Join(argv []string) string
}

// posixQuoter quotes for POSIX-compatible shells (sh, bash, dash, ash — the
// only shells any adapter in this engine ever invokes).
type posixQuoter struct{}

// POSIXQuoter is the Quoter used for every Shell/Exec command; SSH and
// Kubernetes command assembly both route through it.
var POSIXQuoter Quoter = posixQuoter{}

func (posixQuoter) Quote(arg string) string {
	return shellescape.Quote(arg)
}

func (q posixQuoter) Join(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = q.Quote(a)
	}
	return strings.Join(quoted, " ")
}

// noneQuoter performs no escaping, for a caller that has explicitly
// disabled shell interpretation (Shell.Mode == ShellNone) and supplies a
// raw, pre-assembled command string.
type noneQuoter struct{}

// NoneQuoter is a pass-through Quoter for raw, caller-assembled command text.
var NoneQuoter Quoter = noneQuoter{}

func (noneQuoter) Quote(arg string) string    { return arg }
func (q noneQuoter) Join(argv []string) string { return strings.Join(argv, " ") }
