package world

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RightsAdmin is the rights level that unlocks admin commands.
const RightsAdmin = 2

type command struct {
	rights int
	usage  string
	run    func(w *World, p *Player, args []string) error
}

var errUsage = errors.New("bad arguments")

var commands = map[string]command{
	"pos": {
		run: func(_ *World, p *Player, _ []string) error {
			p.SendMessage("You are at: " + p.position.String())
			return nil
		},
	},
	"tele": {
		usage: "::tele x y [z]",
		run: func(_ *World, p *Player, args []string) error {
			if len(args) < 2 || len(args) > 3 {
				return errUsage
			}
			coords := make([]int, len(args))
			for i, a := range args {
				v, err := strconv.Atoi(a)
				if err != nil {
					return errUsage
				}
				coords[i] = v
			}
			to := Position{X: coords[0], Y: coords[1], Z: p.position.Z}
			if len(coords) == 3 {
				to.Z = coords[2]
			}
			p.Teleport(to)
			p.SendMessage("Teleported to: " + p.position.String())
			return nil
		},
	},
	"players": {
		run: func(w *World, p *Player, _ []string) error {
			n := w.registry.Count()
			if n == 1 {
				p.SendMessage("There is 1 player online.")
			} else {
				p.SendMessage(fmt.Sprintf("There are %d players online.", n))
			}
			return nil
		},
	},
	"item": {
		rights: RightsAdmin,
		usage:  "::item id [amount]",
		run: func(_ *World, p *Player, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return errUsage
			}
			id, err := strconv.Atoi(args[0])
			if err != nil || id < 0 || id > 0xfffe {
				return errUsage
			}
			amount := 1
			if len(args) == 2 {
				if amount, err = strconv.Atoi(args[1]); err != nil || amount < 1 {
					return errUsage
				}
			}
			if left := addItem(&p.details.Inventory, id, amount); left > 0 {
				p.SendMessage("Not enough space in your inventory.")
			}
			p.sendInventory()
			return nil
		},
	},
}

// runCommand executes a "::" command line typed in the chat box.
func (w *World) runCommand(p *Player, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	cmd, ok := commands[name]
	if !ok || p.details.Rights < cmd.rights {
		p.logger.Debug().Str("command", name).Msg("unknown command")
		return
	}
	p.logger.Info().Str("command", name).Strs("args", fields[1:]).Msg("command")
	if err := cmd.run(w, p, fields[1:]); err != nil {
		p.SendMessage("Usage: " + cmd.usage)
	}
}
