// Package cli implements the interactive console of matchlink. Commands run
// through the same controller as the HTTP API.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchlink/internal/config"
	"github.com/energizer-project/matchlink/internal/control"
	"github.com/energizer-project/matchlink/internal/events"
)

var errQuit = errors.New("quit")

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	control  *control.Controller

	in  io.Reader
	out io.Writer
}

// NewCLI creates a new CLI reading commands from in and writing to out.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, ctl *control.Controller, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		control:  ctl,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is done, input ends or the user
// quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nmatchlink console ready. Type 'help' for available commands.")

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
	}()

	for {
		fmt.Fprint(c.out, "matchlink> ")

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
		if errors.Is(err, errQuit) {
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return c.printStatus(ctx)
	case "regions":
		return c.printRegions(ctx)
	case "rooms":
		c.printRooms()
	case "connect":
		return c.cmdConnect(ctx, args)
	case "disconnect":
		return c.report("disconnect", c.control.Disconnect(ctx))
	case "reconnect":
		return c.report("reconnect", c.control.Reconnect(ctx))
	case "rejoin":
		return c.report("rejoin", c.control.Rejoin(ctx))
	case "lobby":
		return c.report("join lobby", c.control.JoinLobby(ctx))
	case "leavelobby":
		return c.report("leave lobby", c.control.LeaveLobby(ctx))
	case "create":
		return c.cmdCreate(ctx, args)
	case "join":
		if len(args) < 1 {
			return fmt.Errorf("usage: join <room>")
		}
		return c.report("join "+args[0], c.control.JoinRoom(ctx, args[0]))
	case "random":
		return c.cmdRandom(ctx, args)
	case "leave":
		return c.report("leave room", c.control.LeaveRoom(ctx))
	case "friends":
		return c.cmdFriends(ctx, args)
	case "history":
		return c.printHistory(args)
	case "setconfig":
		return c.cmdSetConfig(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down matchlink...")
		c.eventBus.Emit(ctx, events.NewEvent(events.EventShutdown, "cli", nil))
		return errQuit
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  status                   Show client state and current room
  regions                  Show region pings
  rooms                    Show the lobby room list
  connect [region]         Connect using the configured settings
  disconnect               Disconnect from the current server
  reconnect                Return to the last master server
  rejoin                   Return to the last room
  lobby                    Join the default lobby
  leavelobby               Leave the lobby
  create [name] [max]      Create a room
  join <name>              Join a room by name
  random [max] [create]    Join a random room, optionally creating one
  leave                    Leave the current room
  friends [user ids...]    Look up friends, or show the last result
  history [n]              Show recent disconnects
  setconfig <key> <value>  Update a client setting
  quit                     Shut down matchlink
  help                     Show this help message`)
	fmt.Fprintln(c.out)
}

// report prints the outcome of an accepted request.
func (c *CLI) report(what string, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s requested\n", what)
	return nil
}

func (c *CLI) newTable(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus(ctx context.Context) error {
	s, err := c.control.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  State:        %s\n", s.State)
	fmt.Fprintf(c.out, "  Server:       %s\n", s.Server)
	fmt.Fprintf(c.out, "  Ready:        %v\n", s.Ready)
	fmt.Fprintf(c.out, "  Region:       %s\n", s.Region)
	fmt.Fprintf(c.out, "  User ID:      %s\n", s.UserID)
	fmt.Fprintf(c.out, "  In Lobby:     %v\n", s.InLobby)
	fmt.Fprintf(c.out, "  Last Cause:   %s\n", s.DisconnectCause)
	fmt.Fprintf(c.out, "  App Stats:    %d players in %d rooms, %d on master\n",
		s.PlayersInRooms, s.Rooms, s.PlayersOnMaster)

	if s.Room == nil {
		fmt.Fprintln(c.out)
		return nil
	}

	fmt.Fprintf(c.out, "  Room:         %s (%d max, open=%v)\n\n", s.Room.Name, s.Room.MaxPlayers, s.Room.IsOpen)
	tw := c.newTable([]string{"Actor", "Nickname", "User ID", "Flags"})
	for _, p := range s.Room.Players {
		var flags []string
		if p.IsLocal {
			flags = append(flags, "local")
		}
		if p.IsMaster {
			flags = append(flags, "master")
		}
		if p.Inactive {
			flags = append(flags, "inactive")
		}
		tw.Append([]string{strconv.Itoa(p.ActorNr), p.NickName, p.UserID, strings.Join(flags, ",")})
	}
	tw.Render()
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printRegions(ctx context.Context) error {
	rs, err := c.control.Regions(ctx)
	if err != nil {
		return err
	}
	if len(rs.Regions) == 0 {
		fmt.Fprintln(c.out, "No regions known yet. Connect to a name server first.")
		return nil
	}

	tw := c.newTable([]string{"Region", "Address", "Ping", "Best"})
	for _, r := range rs.Regions {
		best := ""
		if r.Code == rs.Best {
			best = "*"
		}
		tw.Append([]string{r.Code, r.Address, fmt.Sprintf("%d ms", r.Ping), best})
	}
	tw.Render()
	if rs.Pinging {
		fmt.Fprintln(c.out, "Pinging in progress...")
	}
	return nil
}

func (c *CLI) printRooms() {
	rooms := c.control.LobbyRooms()
	if len(rooms) == 0 {
		fmt.Fprintln(c.out, "No rooms listed. Join the lobby to receive the room list.")
		return
	}

	tw := c.newTable([]string{"Room", "Players", "Open", "Visible"})
	for _, r := range rooms {
		players := strconv.Itoa(r.PlayerCount)
		if r.MaxPlayers > 0 {
			players += "/" + strconv.Itoa(r.MaxPlayers)
		}
		tw.Append([]string{r.Name, players, strconv.FormatBool(r.IsOpen), strconv.FormatBool(r.IsVisible)})
	}
	tw.Render()
}

func (c *CLI) cmdConnect(ctx context.Context, args []string) error {
	var regionCode string
	if len(args) > 0 {
		regionCode = args[0]
	}
	return c.report("connect", c.control.Connect(ctx, regionCode))
}

func (c *CLI) cmdCreate(ctx context.Context, args []string) error {
	var req control.CreateRoomRequest
	if len(args) > 0 {
		req.Name = args[0]
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid max players: %s", args[1])
		}
		req.MaxPlayers = n
	}
	return c.report("create room", c.control.CreateRoom(ctx, req))
}

func (c *CLI) cmdRandom(ctx context.Context, args []string) error {
	var (
		maxPlayers int
		create     bool
	)
	for _, a := range args {
		if a == "create" {
			create = true
			continue
		}
		n, err := strconv.Atoi(a)
		if err != nil {
			return fmt.Errorf("usage: random [max] [create]")
		}
		maxPlayers = n
	}
	return c.report("join random room", c.control.JoinRandom(ctx, maxPlayers, create))
}

func (c *CLI) cmdFriends(ctx context.Context, args []string) error {
	if len(args) > 0 {
		return c.report("friend lookup", c.control.FindFriends(ctx, args))
	}

	friends := c.control.Friends()
	if len(friends) == 0 {
		fmt.Fprintln(c.out, "No friend lookup results.")
		return nil
	}
	tw := c.newTable([]string{"User ID", "Online", "Room"})
	for _, f := range friends {
		tw.Append([]string{f.UserID, strconv.FormatBool(f.IsOnline), f.Room})
	}
	tw.Render()
	return nil
}

func (c *CLI) printHistory(args []string) error {
	n := 10
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		n = v
	}

	records, err := c.control.History(n)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(c.out, "No disconnects recorded.")
		return nil
	}

	tw := c.newTable([]string{"Time", "Cause", "Server", "Region"})
	for _, r := range records {
		tw.Append([]string{r.Time.Format(time.RFC3339), r.Cause, r.Server, r.Region})
	}
	tw.Render()
	return nil
}

// cmdSetConfig updates one client_data key. Values that are not plain
// strings are read as JSON, so numbers and booleans work too.
func (c *CLI) cmdSetConfig(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")
	previous := c.cfg.GetClientData()

	if err := c.cfg.UpdateClientField(key, raw); err != nil {
		var v interface{}
		if jsonErr := json.Unmarshal([]byte(raw), &v); jsonErr != nil {
			return err
		}
		if err := c.cfg.UpdateClientField(key, v); err != nil {
			return err
		}
	}

	if result := config.Validate(c.cfg); !result.IsValid() {
		c.cfg.SetClientData(previous)
		return result.Errors[0]
	}

	if err := c.cfg.Save(); err != nil {
		return err
	}

	log.Info().Str("key", key).Msg("CLI: config updated")
	c.eventBus.Emit(context.Background(), events.NewEvent(events.EventConfigChanged, "cli",
		events.ConfigChangedPayload{Section: "client_data", Key: key, Value: raw}))
	fmt.Fprintf(c.out, "Config updated: %s = %s\n", key, raw)
	return nil
}
