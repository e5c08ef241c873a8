package main

import (
	"context"
	"fmt"
	"strings"

	prompt "github.com/c-bata/go-prompt"

	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/logging"
)

// shell runs commands read from an interactive prompt against one open
// store.
type shell struct {
	ctx context.Context
	app *app
}

func cmdShell(ctx context.Context, a *app, args []string) error {
	if _, err := parseFlags(newFlags("shell"), args, 0); err != nil {
		return err
	}

	s := &shell{ctx: ctx, app: a}
	fmt.Fprintf(a.out, "vstore %s (namespace %q, backend %s). Type 'help' for commands, 'exit' to quit.\n",
		Version, a.cfg.Namespace, a.cfg.Backend.Kind)

	p := prompt.New(
		s.execute,
		s.complete,
		prompt.OptionPrefix("vstore> "),
		prompt.OptionTitle("vstore"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && isExit(in)
		}),
	)
	p.Run()
	return nil
}

func isExit(in string) bool {
	switch strings.TrimSpace(in) {
	case "exit", "quit":
		return true
	}
	return false
}

func (s *shell) execute(in string) {
	args := strings.Fields(in)
	if len(args) == 0 || isExit(in) {
		return
	}
	if args[0] == "shell" {
		fmt.Fprintln(s.app.out, "already in the shell")
		return
	}

	if err := s.app.dispatch(s.ctx, args); err != nil {
		fmt.Fprintf(s.app.out, "error: %v\n", err)
		logging.Debug("shell command failed", "command", args[0], "code", errors.CodeName(errors.ErrorToCode(err)))
	}
}

func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	fields := strings.Fields(before)

	// First word: command names
	if len(fields) == 0 || (len(fields) == 1 && !strings.HasSuffix(before, " ")) {
		suggests := make([]prompt.Suggest, 0, len(commandList())+1)
		for _, c := range commandList() {
			if c.name == "shell" {
				continue
			}
			suggests = append(suggests, prompt.Suggest{Text: c.name, Description: c.summary})
		}
		suggests = append(suggests, prompt.Suggest{Text: "exit", Description: "leave the shell"})
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}

	switch fields[0] {
	case "load", "delete", "tag":
		return prompt.FilterHasPrefix(s.versionSuggests(), d.GetWordBeforeCursor(), true)
	case "list":
		return prompt.FilterHasPrefix(s.branchSuggests(), d.GetWordBeforeCursor(), true)
	}
	return nil
}

// versionSuggests lists known versions only when the store is already
// open, so completion never opens a backend.
func (s *shell) versionSuggests() []prompt.Suggest {
	b := s.app.backend
	if b == nil {
		return nil
	}

	idx := b.Index()
	ids := idx.IDs()
	if len(ids) > 50 {
		ids = ids[:50]
	}
	out := make([]prompt.Suggest, 0, len(ids))
	for _, id := range ids {
		rec, _ := idx.Get(id)
		out = append(out, prompt.Suggest{
			Text:        id,
			Description: rec.BranchID + " " + rec.Timestamp.Local().Format("2006-01-02 15:04"),
		})
	}
	return out
}

func (s *shell) branchSuggests() []prompt.Suggest {
	b := s.app.backend
	if b == nil {
		return nil
	}
	branches, err := b.ListBranches(s.ctx)
	if err != nil {
		return nil
	}
	out := make([]prompt.Suggest, 0, len(branches))
	for _, br := range branches {
		out = append(out, prompt.Suggest{Text: br.Name, Description: fmt.Sprintf("%d versions", br.VersionCount)})
	}
	return out
}
