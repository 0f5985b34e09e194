package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jessevdk/go-flags"

	"github.com/cptspacemanspiff/syspower/internal/supply"
	"github.com/cptspacemanspiff/syspower/internal/syspower"
)

func init() {
	addGroup("supply", "Report power supplies", `
The supply commands show the batteries, mains adapters and USB ports the
kernel knows about, and follow their changes as they happen.
`,
		subcommand("print", "Show power supply readings", func() flags.Commander { return &cmdSupplyPrint{} }),
		subcommand("monitor", "Print power supplies as they change", func() flags.Commander { return &cmdSupplyMonitor{} }),
	)
}

// matchSupply reports whether name passes the optional name filter.
func matchSupply(filter, name string) bool {
	return filter == "" || filter == name
}

type cmdSupplyPrint struct {
	All        bool `long:"all" description:"Also show health and the average and maximum readings"`
	Positional struct {
		Name string `positional-arg-name:"<name>"`
	} `positional-args:"yes"`
}

func supplyRow(info *supply.Info, all bool) []string {
	online := "no"
	if info.Online {
		online = "yes"
	}
	row := []string{
		info.Name,
		info.Type.String(),
		info.Status.String(),
		online,
		percent(info.CapacityPct),
		unit(info.VoltageNowMV, "mV"),
		unit(info.CurrentNowMA, "mA"),
		unit(info.PowerNowMW, "mW"),
	}
	if !all {
		return row
	}
	health := info.Health
	if health == "" {
		health = "n/a"
	}
	return append(row,
		health,
		unit(info.VoltageAvgMV, "mV"),
		unit(info.VoltageMaxMV, "mV"),
		unit(info.CurrentAvgMA, "mA"),
		unit(info.CurrentMaxMA, "mA"),
	)
}

var (
	supplyHeader    = []string{"Name", "Type", "Status", "Online", "Capacity", "Voltage", "Current", "Power"}
	supplyHeaderAll = append(supplyHeader[:len(supplyHeader):len(supplyHeader)],
		"Health", "Voltage avg", "Voltage max", "Current avg", "Current max")
)

func percent(r supply.Reading) string {
	if !r.Known {
		return r.String()
	}
	return r.String() + "%"
}

func unit(r supply.Reading, u string) string {
	if !r.Known {
		return r.String()
	}
	return r.String() + " " + u
}

// printSupplies prints a table of the supplies passing filter and returns
// how many there were.
func printSupplies(sys *syspower.System, filter string, all bool) (int, error) {
	infos, err := sys.Supplies.All()
	if err != nil {
		return 0, err
	}
	var rows [][]string
	for _, info := range infos {
		if matchSupply(filter, info.Name) {
			rows = append(rows, supplyRow(info, all))
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}
	header := supplyHeader
	if all {
		header = supplyHeaderAll
	}
	printTable(Stdout, header, rows)
	return len(rows), nil
}

func (c *cmdSupplyPrint) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()

	n, err := printSupplies(sys, c.Positional.Name, c.All)
	if err != nil {
		return err
	}
	if n == 0 {
		if c.Positional.Name != "" {
			return fmt.Errorf("no power supply named %q", c.Positional.Name)
		}
		fmt.Fprintln(Stdout, "no power supplies")
	}
	return nil
}

type cmdSupplyMonitor struct {
	Positional struct {
		Name string `positional-arg-name:"<name>"`
	} `positional-args:"yes"`
}

func (c *cmdSupplyMonitor) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, cancel := interruptible()
	defer cancel()
	return monitorSupplies(ctx, sys, c.Positional.Name)
}

// monitorSupplies prints the current supplies, then one line per change
// until ctx is done. Lost events reprint the whole table.
func monitorSupplies(ctx context.Context, sys *syspower.System, filter string) error {
	mon, err := sys.Monitors.Open()
	if err != nil {
		return fmt.Errorf("cannot monitor power supplies: %w", err)
	}
	defer mon.Close()

	if _, err := printSupplies(sys, filter, false); err != nil {
		return err
	}
	for {
		if err := mon.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for {
			ev, err := mon.ReadEvent()
			if errors.Is(err, supply.ErrNoEvents) {
				break
			}
			if errors.Is(err, supply.ErrOverflow) {
				fmt.Fprintln(Stdout, "events lost, current state:")
				if _, err := printSupplies(sys, filter, false); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			name := ev.Name()
			if !matchSupply(filter, name) {
				continue
			}
			info, err := sys.Supplies.Info(name)
			if err != nil {
				fmt.Fprintf(Stdout, "%s %s\n", ev.Action, name)
				continue
			}
			fmt.Fprintf(Stdout, "%s %s: %s %s, %s\n", ev.Action, name,
				info.Status, percent(info.CapacityPct), unit(info.PowerNowMW, "mW"))
		}
	}
}
