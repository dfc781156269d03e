// Package cli implements the operator console: live server status, the
// online player list and the same control commands the admin API offers.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/ember-project/ember/internal/config"
	"github.com/ember-project/ember/internal/engine"
	"github.com/ember-project/ember/internal/events"
	"github.com/ember-project/ember/internal/util"
)

// commandTimeout bounds commands that wait for the tick goroutine.
const commandTimeout = 5 * time.Second

// ConnectionCounter reports open client sockets.
type ConnectionCounter interface {
	Count() int
	Pending() int
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	engine   *engine.Engine
	conns    ConnectionCounter
	started  time.Time

	in  io.Reader
	out io.Writer
}

// NewCLI creates a new CLI handler reading commands from in. conns may be nil.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, eng *engine.Engine, conns ConnectionCounter, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		engine:   eng,
		conns:    conns,
		started:  time.Now(),
		in:       in,
		out:      out,
	}
}

// Start begins the interactive CLI loop. It returns when ctx is done or the
// input is exhausted.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nEmber CLI ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("CLI: input closed")
		}
	}()

	for {
		fmt.Fprint(c.out, "ember> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.Execute(ctx, line); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs one command line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "who":
		return c.cmdPlayers(ctx)
	case "overloads":
		return c.cmdOverloads(args)
	case "kick":
		return c.cmdKick(ctx, args)
	case "broadcast", "say":
		return c.cmdBroadcast(ctx, args)
	case "save":
		return c.cmdSave(ctx)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down Ember...")
		if c.eventBus != nil {
			c.eventBus.Emit(ctx, events.Event{
				Type:   events.EventShutdown,
				Source: "cli",
			})
		}
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                      Ember CLI Commands                      ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status             Show world and cycle status              ║")
	fmt.Fprintln(c.out, "║  players            List online players                      ║")
	fmt.Fprintln(c.out, "║  overloads [n]      Show the last n overloaded cycles        ║")
	fmt.Fprintln(c.out, "║  kick <name>        Log a player out                         ║")
	fmt.Fprintln(c.out, "║  broadcast <msg>    Send a message to every player           ║")
	fmt.Fprintln(c.out, "║  save               Save every online player                 ║")
	fmt.Fprintln(c.out, "║  quit               Shutdown Ember                           ║")
	fmt.Fprintln(c.out, "║  help               Show this help message                   ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

// printStatus displays the world and cycle status.
func (c *CLI) printStatus() {
	srv := c.cfg.GetServer()
	stats := c.engine.Monitor().Stats()

	fmt.Fprintf(c.out, "\n  Server:       %s (world %d)\n", srv.Name, srv.WorldID)
	fmt.Fprintf(c.out, "  Address:      %s\n", srv.Address())
	fmt.Fprintf(c.out, "  Uptime:       %s\n", util.FormatDuration(time.Since(c.started)))
	fmt.Fprintf(c.out, "  Players:      %d / %d\n", c.engine.PlayerCount(), srv.MaxPlayers)
	if c.conns != nil {
		fmt.Fprintf(c.out, "  Connections:  %d (%d handshaking)\n", c.conns.Count(), c.conns.Pending())
	}
	fmt.Fprintf(c.out, "  Tick:         %d\n", stats.Tick)
	fmt.Fprintf(c.out, "  Cycle rate:   %s\n", stats.Rate)
	fmt.Fprintf(c.out, "  Avg cycle:    %s (max %s)\n", stats.AvgElapsed, stats.MaxElapsed)
	fmt.Fprintf(c.out, "  Load:         %d%%\n", stats.LoadPercent)
	fmt.Fprintf(c.out, "  Overloads:    %d (%d this hour)\n", stats.TotalOverloads, stats.OverloadsThisHour)
	fmt.Fprintln(c.out)
}

func (c *CLI) cmdPlayers(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	players, err := c.engine.Players(ctx)
	if err != nil {
		return err
	}
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players online")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Index", "Name", "Rights", "Position", "Remote", "Online", "Idle"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range players {
		tw.Append([]string{
			strconv.Itoa(p.Index),
			p.Name,
			strconv.Itoa(p.Rights),
			fmt.Sprintf("%d, %d, %d", p.Position.X, p.Position.Y, p.Position.Z),
			p.Remote,
			util.FormatDuration(p.Online),
			util.FormatDuration(p.Idle),
		})
	}

	tw.Render()
	return nil
}

func (c *CLI) cmdOverloads(args []string) error {
	count := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		count = n
	}

	history := c.engine.Monitor().History()
	if len(history) > count {
		history = history[len(history)-count:]
	}
	if len(history) == 0 {
		fmt.Fprintln(c.out, "No overloaded cycles recorded")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Time", "Tick", "Elapsed", "Load"})
	tw.SetBorder(true)
	for _, o := range history {
		tw.Append([]string{
			o.Timestamp.Format(time.TimeOnly),
			strconv.FormatUint(o.Tick, 10),
			o.Elapsed.String(),
			fmt.Sprintf("%d%%", o.LoadPercent),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdKick(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: kick <name>")
	}
	name := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	found, err := c.engine.Kick(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s is not online", util.FormatName(name))
	}
	fmt.Fprintf(c.out, "Kicked %s\n", util.FormatName(name))
	return nil
}

func (c *CLI) cmdBroadcast(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: broadcast <message>")
	}
	message := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	n, err := c.engine.Broadcast(ctx, message)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Message sent to %d players\n", n)
	return nil
}

func (c *CLI) cmdSave(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	saved, failed, err := c.engine.SaveAll(ctx, "cli")
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Saved %d players (%d failed)\n", saved, failed)
	return nil
}
