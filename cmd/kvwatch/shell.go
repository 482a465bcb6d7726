package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/kvwatch/kvwatch-go/pkg/watch"
)

// shell is the interactive command loop.
type shell struct {
	rl *readline.Instance

	manager      *watch.Manager
	cb           watch.Callback
	awaitTimeout time.Duration
}

// newShell creates the shell. The manager is attached before Run.
func newShell() (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "kvwatch> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("watch"),
			readline.PcItem("prefix"),
			readline.PcItem("cancel"),
			readline.PcItem("list"),
			readline.PcItem("state"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &shell{rl: rl}, nil
}

// Stdout returns a writer that does not clobber the prompt.
func (s *shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Stderr returns a writer that does not clobber the prompt.
func (s *shell) Stderr() io.Writer {
	return s.rl.Stderr()
}

// Run reads commands until quit, EOF or ctx is done.
func (s *shell) Run(ctx context.Context) {
	defer s.rl.Close()
	s.printHelp()

	for ctx.Err() == nil {
		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if !s.exec(ctx, strings.ToLower(parts[0]), parts[1:]) {
			return
		}
	}
}

// exec runs one command and reports whether the shell should continue.
func (s *shell) exec(ctx context.Context, cmd string, args []string) bool {
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "watch", "w":
		s.cmdWatch(ctx, args, false)
	case "prefix", "p":
		s.cmdWatch(ctx, args, true)
	case "cancel", "c":
		s.cmdCancel(args)
	case "list", "ls":
		s.cmdList()
	case "state", "st":
		fmt.Fprintf(s.Stdout(), "Stream: %s, %d watch(es)\n", s.manager.State(), len(s.manager.Subscriptions()))
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintf(s.Stdout(), "Unknown command: %s (type 'help')\n", cmd)
	}
	return true
}

func (s *shell) printHelp() {
	fmt.Fprint(s.Stdout(), `Commands:
  watch <key> [rev]   Watch a single key, optionally from a revision
  prefix <prefix>     Watch every key with the prefix
  cancel <handle>...  Cancel watches
  list                List watches
  state               Show the stream state
  quit                Exit
`)
}

func (s *shell) cmdWatch(ctx context.Context, args []string, prefix bool) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(s.Stdout(), "Usage: watch <key> [rev] | prefix <prefix>")
		return
	}

	var opts []watch.SubscribeOption
	if prefix {
		opts = append(opts, watch.WithPrefix())
	}
	if len(args) == 2 {
		rev, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || rev <= 0 {
			fmt.Fprintf(s.Stdout(), "Invalid revision: %s\n", args[1])
			return
		}
		opts = append(opts, watch.WithRevision(rev))
	}

	actx, cancel := context.WithTimeout(ctx, s.awaitTimeout)
	defer cancel()
	h, err := s.manager.SubscribeAndAwait(actx, args[0], s.cb, opts...)
	if err != nil {
		fmt.Fprintf(s.Stdout(), "Watch failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.Stdout(), "Watching %s as handle %d\n", args[0], h)
}

func (s *shell) cmdCancel(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.Stdout(), "Usage: cancel <handle>...")
		return
	}
	handles := make([]watch.Handle, 0, len(args))
	for _, a := range args {
		n, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			fmt.Fprintf(s.Stdout(), "Invalid handle: %s\n", a)
			return
		}
		handles = append(handles, watch.Handle(n))
	}
	s.manager.Cancel(handles...)
	fmt.Fprintf(s.Stdout(), "Cancelled %d handle(s)\n", len(handles))
}

func (s *shell) cmdList() {
	subs := s.manager.Subscriptions()
	if len(subs) == 0 {
		fmt.Fprintln(s.Stdout(), "No watches")
		return
	}
	fmt.Fprintln(s.Stdout(), "HANDLE  STATE      WATCH       REV       RANGE")
	for _, info := range subs {
		printInfo(s.Stdout(), info)
	}
}
