// Package repl is an interactive console over a locally opened store.
package repl

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/ergochat/readline"

	arke "github.com/Arke-Institute/arke-ipfs-api-sub001"
)

type REPL struct {
	Store *arke.Store
	rl    *readline.Instance
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("create"),
	readline.PcItem("get"),
	readline.PcItem("at"),
	readline.PcItem("history"),

	readline.PcItem("set"),
	readline.PcItem("label"),

	readline.PcItem("merge"),
	readline.PcItem("unmerge"),
	readline.PcItem("watch"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (repl *REPL) Open() (err error) {
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     ".arke_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

// REPL reads and runs one command.
func (repl *REPL) REPL(ctx context.Context) (err error) {
	var line string
	line, err = repl.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}

	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	args := strings.Fields(line)
	cmd, args := args[0], args[1:]

	switch cmd {
	case "create":
		err = repl.CommandCreate(ctx, args)
	case "get":
		err = repl.CommandGet(ctx, args)
	case "at":
		err = repl.CommandAt(ctx, args)
	case "history":
		err = repl.CommandHistory(ctx, args)
	case "set":
		err = repl.CommandSet(ctx, args)
	case "label":
		err = repl.CommandLabel(ctx, args)
	case "merge":
		err = repl.CommandMerge(ctx, args)
	case "unmerge":
		err = repl.CommandUnmerge(ctx, args)
	case "watch":
		err = repl.CommandWatch(ctx, args)
	case "help":
		err = repl.CommandHelp()
	case "exit", "quit":
		err = io.EOF
	default:
		err = errors.New("unknown command; try help")
	}
	return
}
