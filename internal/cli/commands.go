// Package cli implements the interactive operator console of the lobby
// server.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/multisnake-project/multisnake/internal/events"
	"github.com/multisnake-project/multisnake/internal/lobby"
	"github.com/multisnake-project/multisnake/internal/network"
)

// errQuit ends the command loop.
var errQuit = errors.New("quit")

// CLI provides an interactive command-line interface.
type CLI struct {
	eventBus *events.EventBus
	reactor  *network.Reactor
	lobby    *lobby.Lobby

	in  io.Reader
	out io.Writer

	titleColor *color.Color
	okColor    *color.Color
	warnColor  *color.Color
	errColor   *color.Color
}

// NewCLI creates a new CLI handler reading stdin.
func NewCLI(eventBus *events.EventBus, reactor *network.Reactor, lb *lobby.Lobby) *CLI {
	return &CLI{
		eventBus:   eventBus,
		reactor:    reactor,
		lobby:      lb,
		in:         os.Stdin,
		out:        color.Output,
		titleColor: color.New(color.FgCyan, color.Bold),
		okColor:    color.New(color.FgGreen),
		warnColor:  color.New(color.FgYellow),
		errColor:   color.New(color.FgRed, color.Bold),
	}
}

// SetIO replaces the console streams.
func (c *CLI) SetIO(in io.Reader, out io.Writer) {
	c.in = in
	c.out = out
}

// Start runs the command loop until ctx is cancelled, input ends or the
// operator quits.
func (c *CLI) Start(ctx context.Context) {
	c.titleColor.Fprintln(c.out, "\nMultisnake console ready. Type 'help' for available commands.")
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
			log.Warn().Err(err).Msg("CLI: input stream failed")
		}
	}()

	for {
		fmt.Fprint(c.out, "multisnake> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			err := c.Execute(ctx, line)
			if errors.Is(err, errQuit) {
				return
			}
			if err != nil {
				c.errColor.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs a single console command line.
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
		return c.printStatus(ctx)
	case "players", "p":
		return c.printPlayers(ctx)
	case "connections", "conns":
		return c.printConnections(ctx)
	case "start":
		return c.cmdStart(ctx, args)
	case "kick":
		return c.cmdKick(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down Multisnake...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return errQuit
	default:
		c.warnColor.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	c.titleColor.Fprintln(c.out, "\nCommands:")
	fmt.Fprintln(c.out, "  status             Show the lobby state")
	fmt.Fprintln(c.out, "  players            List logged-in players")
	fmt.Fprintln(c.out, "  connections        List open client connections")
	fmt.Fprintln(c.out, "  start [force]      Start the game, optionally ignoring ready flags")
	fmt.Fprintln(c.out, "  kick <username>    Disconnect a player")
	fmt.Fprintln(c.out, "  quit               Shut down the server")
	fmt.Fprintln(c.out, "  help               Show this help message")
	fmt.Fprintln(c.out)
}

func (c *CLI) printStatus(ctx context.Context) error {
	var status lobby.Status
	var connections int
	if err := c.reactor.Do(ctx, func() {
		status = c.lobby.Status()
		connections = c.reactor.Connections().Count()
	}); err != nil {
		return err
	}

	fmt.Fprintln(c.out)
	fmt.Fprint(c.out, "  Game:         ")
	if status.Running {
		c.okColor.Fprintln(c.out, "RUNNING")
	} else {
		c.warnColor.Fprintln(c.out, "WAITING")
	}
	fmt.Fprintf(c.out, "  Players:      %d (%d ready)\n", status.Players, status.Ready)
	fmt.Fprintf(c.out, "  Connections:  %d\n", connections)
	fmt.Fprintf(c.out, "  Can start:    %v\n", status.CanStart)
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printPlayers(ctx context.Context) error {
	var roster []lobby.PlayerInfo
	if err := c.reactor.Do(ctx, func() { roster = c.lobby.Status().Roster }); err != nil {
		return err
	}
	if len(roster) == 0 {
		fmt.Fprintln(c.out, "No players logged in")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Username", "Ready", "Remote", "Joined"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, p := range roster {
		tw.Append([]string{
			p.Username,
			strconv.FormatBool(p.Ready),
			p.RemoteAddr,
			p.JoinedAt.Format(time.TimeOnly),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printConnections(ctx context.Context) error {
	var conns []network.ConnectionInfo
	if err := c.reactor.Do(ctx, func() {
		for _, conn := range c.reactor.Connections().All() {
			conns = append(conns, conn.Info())
		}
	}); err != nil {
		return err
	}
	if len(conns) == 0 {
		fmt.Fprintln(c.out, "No open connections")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Remote", "State", "Connected", "Idle"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, info := range conns {
		tw.Append([]string{
			info.ID,
			info.RemoteAddr,
			info.State,
			info.ConnectedAt.Format(time.TimeOnly),
			time.Since(info.LastActivity).Truncate(time.Second).String(),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdStart(ctx context.Context, args []string) error {
	force := false
	if len(args) > 0 {
		if !strings.EqualFold(args[0], "force") {
			return fmt.Errorf("usage: start [force]")
		}
		force = true
	}

	var started bool
	if err := c.reactor.Do(ctx, func() { started = c.lobby.StartGame(force) }); err != nil {
		return err
	}
	if started {
		c.okColor.Fprintln(c.out, "Game started")
	} else {
		c.warnColor.Fprintln(c.out, "Game not started: every player must be ready and more than one must be present")
	}
	return nil
}

func (c *CLI) cmdKick(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kick <username>")
	}

	var kicked bool
	if err := c.reactor.Do(ctx, func() { kicked = c.lobby.Kick(args[0]) }); err != nil {
		return err
	}
	if !kicked {
		return fmt.Errorf("player not found: %s", args[0])
	}
	fmt.Fprintf(c.out, "Kicked %s\n", args[0])
	return nil
}
