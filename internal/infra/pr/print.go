// Package pr is a thin wrapper for unified output in an interactive CLI.
// It initializes readline with a cancelable stdin, redirects stdout/stderr
// to its buffers, and provides print helpers for normal and diagnostic
// output. Concurrency: the mutex guards only swapping the target writers;
// writes themselves are not serialized here and must be safe on the
// target writer's own side.
package pr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
	"github.com/kr/pretty"
)

var (
	// rl is the active readline instance, set by Init. Nil before Init runs.
	rl *readline.Instance
	// out is the current stdout target: os.Stdout before Init, rl.Stdout() after.
	out io.Writer = os.Stdout
	// errOut is the current stderr target: os.Stderr before Init, rl.Stderr() after.
	errOut io.Writer = os.Stderr
	// mu guards swapping the writer references and cancelableIn, not the writes themselves.
	mu sync.Mutex

	// cancelableIn is the stdin handle that can be closed to interrupt a
	// pending read (readline then sees io.EOF). Set by Init via
	// readline.NewCancelableStdin.
	cancelableIn interface{ Close() error }
)

// Init sets up readline and redirects the package's output streams to its
// stdout/stderr. Uses a cancelable stdin so shutdown can interrupt a
// pending read. Not meant to be called more than once.
func Init() error {
	cs := readline.NewCancelableStdin(os.Stdin)
	newRl, err := readline.NewEx(&readline.Config{Stdin: cs})
	if err != nil {
		_ = cs.Close()
		return err
	}
	rl = newRl

	mu.Lock()
	cancelableIn = cs
	out = rl.Stdout()
	errOut = rl.Stderr()
	mu.Unlock()

	return nil
}

// InterruptReadline closes the cancelable stdin: Readline() observes io.EOF
// and returns. Idempotent — closing twice is a no-op.
func InterruptReadline() {
	if cancelableIn != nil {
		_ = cancelableIn.Close()
	}
}

// SetPrompt sets the prompt string. Assumes Init has already run.
func SetPrompt(prompt string) {
	rl.SetPrompt(prompt)
}

// Rl returns the current readline instance (nil if Init has not run).
func Rl() *readline.Instance {
	return rl
}

// Stdout returns the current stdout writer. The lock only guards reading
// the reference; write-safety depends on the target writer's own implementation.
func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

// Stderr returns the current stderr writer. Same caveat as Stdout.
func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

// Println writes a to Stdout followed by a newline. Works before Init too,
// falling back to os.Stdout.
func Println(a ...any) {
	fmt.Fprintln(Stdout(), a...)
}

// Printf formats and writes to Stdout. Used for transition/state narration
// in the demo's command loop.
func Printf(format string, a ...any) {
	fmt.Fprintf(Stdout(), format, a...)
}

// ErrPrintln writes a to Stderr followed by a newline. Used for command
// errors the demo loop reports but doesn't treat as fatal.
func ErrPrintln(a ...any) {
	fmt.Fprintln(Stderr(), a...)
}

// PP pretty-prints v to Stdout. The demo's "state" command uses it to dump
// the current connection state and quorum membership in one readable block.
func PP(v any) {
	fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v))
}
