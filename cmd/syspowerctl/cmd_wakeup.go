package main

import (
	"fmt"

	"github.com/jessevdk/go-flags"

	"github.com/cptspacemanspiff/syspower/internal/syspower"
)

func init() {
	addGroup("wakeup", "Manage device wakeup sources", `
Devices with a driver and a power/wakeup attribute can wake the system
from sleep. The wakeup commands list them and switch them on or off.
`,
		subcommand("list", "List wakeup sources and their state", func() flags.Commander { return &cmdWakeupList{} }),
		subcommand("enable", "Allow devices to wake the system", func() flags.Commander { return &cmdWakeupSet{enable: true} }),
		subcommand("disable", "Stop devices from waking the system", func() flags.Commander { return &cmdWakeupSet{enable: false} }),
	)
}

type cmdWakeupList struct{}

func (c *cmdWakeupList) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()

	sources, err := sys.Wakeup.Sources()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Fprintln(Stdout, "no wakeup sources")
		return nil
	}
	rows := make([][]string, 0, len(sources))
	for _, s := range sources {
		state := "disabled"
		if on, err := sys.Wakeup.Enabled(s.Name); err != nil {
			state = "?"
		} else if on {
			state = "enabled"
		}
		rows = append(rows, []string{s.Name, state, s.Path})
	}
	printTable(Stdout, []string{"Name", "Wakeup", "Path"}, rows)
	return nil
}

type cmdWakeupSet struct {
	enable     bool
	Positional struct {
		Names []string `positional-arg-name:"<name|all>" required:"1"`
	} `positional-args:"yes"`
}

func (c *cmdWakeupSet) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()

	names, err := expandAll(sys, c.Positional.Names)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := sys.Wakeup.SetEnabled(name, c.enable); err != nil {
			return err
		}
	}
	return nil
}

// expandAll replaces the word "all" with every known source name.
func expandAll(sys *syspower.System, names []string) ([]string, error) {
	var out []string
	for _, name := range names {
		if name != "all" {
			out = append(out, name)
			continue
		}
		sources, err := sys.Wakeup.Sources()
		if err != nil {
			return nil, err
		}
		for _, s := range sources {
			out = append(out, s.Name)
		}
	}
	return out, nil
}
