package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

// MainLoop runs interactive prompt on terminal, otherwise executes stdin line by line.
// Returns when user exits prompt, stdin ends or ctx is done.
func MainLoop(ctx context.Context, tag string, exec func(line string), complete func(d prompt.Document) []prompt.Suggest) error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			prompt.New(exec, complete,
				prompt.OptionPrefix(tag+"> "),
				prompt.OptionTitle(tag),
			).Run()
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return nil
	}
	return ExecReader(ctx, os.Stdin, exec)
}

// ExecReader calls exec for every non-empty trimmed line of r.
func ExecReader(ctx context.Context, r io.Reader, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		exec(line)
	}
	return scanner.Err()
}

// FilterSuggest keeps suggests with prefix of word before cursor.
func FilterSuggest(suggests []prompt.Suggest) func(d prompt.Document) []prompt.Suggest {
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}
