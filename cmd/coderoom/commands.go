package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/serroba/coderoom/internal/document"
)

const helpText = `commands:
  :run            execute the document
  :members        list who is in the room
  :lang [name]    show or change the local language
  :show           print the document
  :set <text>     replace the document with one line
  :clear          empty the document
  :quit           leave the room
any other line is appended to the document`

// handle runs one input line and reports whether to quit.
func (a *app) handle(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, ":") {
		a.ctrl.Append(line + "\n")

		return false
	}

	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "quit", "q":
		return true
	case "help":
		fmt.Fprintln(a.out, helpText)
	case "show":
		fmt.Fprintf(a.out, "--- %s ---\n%s\n---\n", a.doc.Language(), a.ctrl.Text())
	case "set":
		a.ctrl.Edit(arg)
	case "clear":
		a.ctrl.Edit("")
	case "members":
		a.printMembers()
	case "lang":
		a.language(arg)
	case "run":
		a.run(ctx)
	default:
		fmt.Fprintf(a.out, "unknown command %q, try :help\n", cmd)
	}

	return false
}

func (a *app) printMembers() {
	members := a.ctrl.Members()
	if len(members) == 0 {
		fmt.Fprintln(a.out, "no members")

		return
	}

	self := a.ctrl.ConnectionID()

	for _, m := range members {
		marker := ""
		if m.ConnectionID == self {
			marker = " (you)"
		}

		fmt.Fprintf(a.out, "  %s%s\n", m.DisplayName, marker)
	}
}

func (a *app) language(arg string) {
	if arg == "" {
		names := make([]string, 0, len(document.Languages()))
		for _, l := range document.Languages() {
			names = append(names, l.String())
		}

		fmt.Fprintf(a.out, "language: %s (available: %s)\n", a.doc.Language(), strings.Join(names, ", "))

		return
	}

	lang, err := document.ParseLanguage(arg)
	if err != nil {
		fmt.Fprintf(a.out, "! %v\n", err)

		return
	}

	a.ctrl.SetLanguage(lang)
	fmt.Fprintf(a.out, "language: %s\n", lang)
}

func (a *app) run(ctx context.Context) {
	if a.exec == nil {
		fmt.Fprintln(a.out, "! no execution service configured")

		return
	}

	fmt.Fprintln(a.out, "running...")

	result := a.exec.Execute(ctx, a.doc.Language(), a.ctrl.Text())
	if !result.OK {
		fmt.Fprintf(a.out, "execution failed:\n%s\n", result.Detail)

		return
	}

	fmt.Fprintln(a.out, result.Output)
}
