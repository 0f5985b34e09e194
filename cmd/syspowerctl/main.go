// Command syspowerctl drives the kernel power management interfaces:
// suspend, autosleep, wake locks, the RTC alarm, wakeup sources and power
// supplies.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/cptspacemanspiff/syspower/internal/config"
	"github.com/cptspacemanspiff/syspower/internal/syspower"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

type globalOptions struct {
	Config  string `long:"config" default:"/etc/syspower/config.toml" description:"Configuration file"`
	Verbose bool   `short:"v" long:"verbose" description:"Log what is being done"`
}

var opts globalOptions

const (
	shortHelp = "Control system power management"
	longHelp  = `
syspowerctl suspends the system, manages autosleep and wake locks,
programs the RTC alarm, toggles device wakeup and reports power supplies.
`
)

// cmdInfo describes a command registered by an init function.
type cmdInfo struct {
	name, short, long string
	builder           func() flags.Commander
	children          []*cmdInfo
}

var commands []*cmdInfo

func addCommand(name, short, long string, builder func() flags.Commander) *cmdInfo {
	info := &cmdInfo{name: name, short: short, long: long, builder: builder}
	commands = append(commands, info)
	return info
}

// addGroup registers a command that only holds subcommands.
func addGroup(name, short, long string, children ...*cmdInfo) {
	commands = append(commands, &cmdInfo{name: name, short: short, long: long, children: children})
}

func subcommand(name, short string, builder func() flags.Commander) *cmdInfo {
	return &cmdInfo{name: name, short: short, builder: builder}
}

type group struct{}

func register(parent interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, infos []*cmdInfo) {
	for _, c := range infos {
		var data interface{} = &group{}
		if c.builder != nil {
			data = c.builder()
		}
		cmd, err := parent.AddCommand(c.name, c.short, c.long, data)
		if err != nil {
			panic(fmt.Sprintf("cannot add command %q: %v", c.name, err))
		}
		register(cmd, c.children)
	}
}

// newParser builds a parser with fresh option values.
func newParser() *flags.Parser {
	opts = globalOptions{}
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = shortHelp
	parser.LongDescription = longHelp
	register(parser, commands)
	return parser
}

func parseArgs(args []string) error {
	_, err := newParser().ParseArgs(args)
	return err
}

func main() {
	if err := parseArgs(os.Args[1:]); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(Stdout, e.Message)
			return
		}
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openSystem loads the configuration named on the command line.
func openSystem() (*syspower.System, error) {
	cfg, err := config.LoadOrDefault(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("cannot load configuration: %w", err)
	}
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(Stderr, &slog.HandlerOptions{Level: level}))
	return syspower.New(cfg, logger), nil
}

// interruptible returns a context cancelled by SIGINT or SIGTERM.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
