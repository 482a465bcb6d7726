package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/kvwatch/kvwatch-go/internal/peer"
)

// shell is the peer's interactive command loop.
type shell struct {
	store  *peer.Store
	framed *peer.Server
	grpc   *peer.GRPCServer
	rl     *readline.Instance
}

// newShell creates the shell. The servers are attached before Run.
func newShell(store *peer.Store) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "peer> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &shell{store: store, rl: rl}, nil
}

// Stdout returns a writer that does not clobber the prompt.
func (s *shell) Stdout() io.Writer {
	return s.rl.Stdout()
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
		cmd, args := strings.ToLower(parts[0]), parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()
		case "put", "p":
			s.cmdPut(args)
		case "del", "delete", "d":
			s.cmdDelete(args)
		case "get", "g":
			s.cmdGet(args)
		case "compact":
			s.cmdCompact(args)
		case "drop":
			fmt.Fprintf(s.Stdout(), "Dropped %d connection(s)\n", s.framed.DropConnections())
		case "evict":
			s.cmdEvict(args)
		case "status", "st":
			s.cmdStatus()
		case "quit", "exit", "q":
			return
		default:
			fmt.Fprintf(s.Stdout(), "Unknown command: %s (type 'help')\n", cmd)
		}
	}
}

func (s *shell) printHelp() {
	fmt.Fprint(s.Stdout(), `Commands:
  put <key> <value>   Store a value
  del <key>           Delete a key
  get <key>           Show a key
  compact <rev>       Discard history up to rev
  drop                Sever every framed connection
  evict [reason]      Cancel every watch from the peer side
  status              Show revision, sessions and watches
  quit                Exit
`)
}

func (s *shell) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.Stdout(), "Usage: put <key> <value>")
		return
	}
	rev := s.store.Put(args[0], strings.Join(args[1:], " "))
	fmt.Fprintf(s.Stdout(), "OK (revision %d)\n", rev)
}

func (s *shell) cmdDelete(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.Stdout(), "Usage: del <key>")
		return
	}
	rev, ok := s.store.Delete(args[0])
	if !ok {
		fmt.Fprintf(s.Stdout(), "Key %q not found\n", args[0])
		return
	}
	fmt.Fprintf(s.Stdout(), "OK (revision %d)\n", rev)
}

func (s *shell) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.Stdout(), "Usage: get <key>")
		return
	}
	kv, ok := s.store.Get(args[0])
	if !ok {
		fmt.Fprintf(s.Stdout(), "Key %q not found\n", args[0])
		return
	}
	fmt.Fprintf(s.Stdout(), "%s = %s (mod %d, create %d, version %d)\n",
		kv.Key, kv.Value, kv.ModRevision, kv.CreateRevision, kv.Version)
}

func (s *shell) cmdCompact(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.Stdout(), "Usage: compact <rev>")
		return
	}
	rev, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(s.Stdout(), "Invalid revision: %s\n", args[0])
		return
	}
	if err := s.store.Compact(rev); err != nil {
		fmt.Fprintf(s.Stdout(), "Compact failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.Stdout(), "Compacted to revision %d\n", rev)
}

func (s *shell) cmdEvict(args []string) {
	reason := "evicted by operator"
	if len(args) > 0 {
		reason = strings.Join(args, " ")
	}
	n := s.framed.Evict(reason)
	if s.grpc != nil {
		n += s.grpc.Evict(reason)
	}
	fmt.Fprintf(s.Stdout(), "Evicted %d watch(es)\n", n)
}

func (s *shell) cmdStatus() {
	w := s.Stdout()
	fmt.Fprintf(w, "Revision:   %d (compacted %d)\n", s.store.Rev(), s.store.CompactRev())
	fmt.Fprintf(w, "Framed:     %s, %d session(s), %d watch(es)\n",
		s.framed.Addr(), s.framed.SessionCount(), s.framed.WatchCount())
	if s.grpc != nil {
		fmt.Fprintf(w, "gRPC:       %s, %d session(s)\n", s.grpc.Addr(), s.grpc.SessionCount())
	}
	fmt.Fprintf(w, "Watchers:   %d\n", s.store.WatcherCount())
}
