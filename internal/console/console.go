// Package console is an interactive prompt for a running daemon.
package console

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"

	"github.com/padwatch/padwatch/internal/monitor"
	"github.com/padwatch/padwatch/internal/status"
)

// API is the daemon surface the console drives.
type API interface {
	Status(ctx context.Context) (status.Snapshot, error)
	Health(ctx context.Context) (*monitor.Health, error)
	SetTimeout(ctx context.Context, seconds int) (string, error)
	Disconnect(ctx context.Context, slot int) (string, error)
}

type command struct {
	run     func(c *Console, ctx context.Context, args []string) error
	aliases []string
	usage   string
	help    string
}

var commands []command

func init() {
	commands = []command{
		{(*Console).cmdHelp, []string{"help", "?"}, "help", "Show this help"},
		{(*Console).cmdStatus, []string{"status", "ls"}, "status", "List connected controllers"},
		{(*Console).cmdHealth, []string{"health"}, "health", "Show monitor health"},
		{(*Console).cmdTimeout, []string{"timeout", "t"}, "timeout <seconds>", "Set the idle timeout"},
		{(*Console).cmdDisconnect, []string{"disconnect", "dc"}, "disconnect <player>", "Disconnect a controller by player number"},
	}
}

func findCommand(name string) *command {
	for i := range commands {
		for _, a := range commands[i].aliases {
			if a == name {
				return &commands[i]
			}
		}
	}
	return nil
}

func filterCtrlZ(r rune) (rune, bool) {
	if r == readline.CharCtrlZ {
		return r, false
	}
	return r, true
}

// Console reads commands from a readline prompt and prints replies.
type Console struct {
	api API
	out io.Writer
}

func New(api API, out io.Writer) *Console {
	return &Console{api: api, out: out}
}

// Run starts the prompt and returns when the user quits, sends EOF, or ctx
// ends.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:              "\033[1mpadwatch\033[m> ",
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		FuncFilterInputRune: filterCtrlZ,
	})
	if err != nil {
		return errors.Wrap(err, "initialize console")
	}
	defer rl.Close()
	c.out = rl.Stdout()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	c.cmdHelp(ctx, nil)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if err != nil {
			return nil
		}
		if c.Handle(ctx, line) {
			return nil
		}
	}
}

// Handle executes one input line. It returns true when the line asks to
// quit.
func (c *Console) Handle(ctx context.Context, line string) bool {
	argv := strings.Fields(line)
	if len(argv) == 0 {
		return false
	}
	name := strings.ToLower(argv[0])
	switch name {
	case "quit", "exit", "q":
		return true
	}
	cmd := findCommand(name)
	if cmd == nil {
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", name)
		return false
	}
	if err := cmd.run(c, ctx, argv[1:]); err != nil {
		fmt.Fprintln(c.out, "error:", err)
	}
	return false
}

func (c *Console) cmdHelp(_ context.Context, _ []string) error {
	fmt.Fprintln(c.out, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(c.out, "  %-22s %s\n", cmd.usage, cmd.help)
	}
	fmt.Fprintf(c.out, "  %-22s %s\n", "quit", "Leave the console")
	return nil
}

func (c *Console) cmdStatus(ctx context.Context, _ []string) error {
	snap, err := c.api.Status(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch status")
	}
	fmt.Fprintln(c.out, status.Toast(snap))
	return nil
}

func (c *Console) cmdHealth(ctx context.Context, _ []string) error {
	h, err := c.api.Health(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch health")
	}
	fmt.Fprintf(c.out, "%s, %d controller(s) monitored", h.Status, h.Sessions)
	if h.DegradedDevices > 0 {
		fmt.Fprintf(c.out, ", %d degraded", h.DegradedDevices)
	}
	if h.LastError != "" {
		fmt.Fprintf(c.out, "\nlast error: %s", h.LastError)
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *Console) cmdTimeout(ctx context.Context, args []string) error {
	n, err := intArg(args, "timeout <seconds>")
	if err != nil {
		return err
	}
	return c.reply(c.api.SetTimeout(ctx, n))
}

func (c *Console) cmdDisconnect(ctx context.Context, args []string) error {
	n, err := intArg(args, "disconnect <player>")
	if err != nil {
		return err
	}
	return c.reply(c.api.Disconnect(ctx, n))
}

// reply prints the daemon's message when there is one, even for failed
// actions, and only surfaces err otherwise.
func (c *Console) reply(msg string, err error) error {
	if msg != "" {
		fmt.Fprintln(c.out, msg)
		return nil
	}
	return err
}

func intArg(args []string, usage string) (int, error) {
	if len(args) != 1 {
		return 0, errors.Errorf("usage: %s", usage)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, errors.Errorf("not a number: %q", args[0])
	}
	return n, nil
}
