package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"simpilot/internal/controller"
	"simpilot/internal/session"
)

// ErrUnknownCommand is returned by Console.Execute for unrecognized input.
var ErrUnknownCommand = errors.New("unknown console command")

// Console turns text commands into key, signal and enable requests for a
// running session.
//
//	key <name>         forward a key press
//	signal <name>      deliver a named signal
//	enable <ctrl>      enable a controller
//	disable <ctrl>     disable a controller
//	reset              reset every enabled controller
//	status             print the latest snapshot
//	warnings           print recorded warnings
type Console struct {
	session *session.Session
	out     io.Writer
	logger  *logrus.Logger
}

// NewConsole creates a new console for s, printing replies to out.
func NewConsole(s *session.Session, out io.Writer, logger *logrus.Logger) *Console {
	return &Console{session: s, out: out, logger: logger}
}

// Run executes one command per line of r until r is exhausted or ctx is
// done.
func (c *Console) Run(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := c.Execute(scanner.Text()); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.WithError(err).Warn("Console input failed")
	}
}

// Execute runs a single command line. Blank lines are ignored.
func (c *Console) Execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb, args := fields[0], fields[1:]

	arg := func() (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("%s takes exactly one argument", verb)
		}
		return args[0], nil
	}

	switch verb {
	case "key":
		name, err := arg()
		if err != nil {
			return err
		}
		if !c.session.HandleKey(controller.KeyEvent{Key: name}) {
			fmt.Fprintf(c.out, "key %s not handled\n", name)
		}
	case "signal":
		name, err := arg()
		if err != nil {
			return err
		}
		c.session.HandleSignal(name)
	case "enable", "disable":
		name, err := arg()
		if err != nil {
			return err
		}
		if err := c.session.SetEnabled(name, verb == "enable"); err != nil {
			return err
		}
	case "reset":
		c.session.ResetControllers()
	case "status":
		c.printStatus()
	case "warnings":
		for _, w := range c.session.Warnings() {
			fmt.Fprintln(c.out, w)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, verb)
	}

	c.logger.WithField("command", line).Debug("Console command")
	return nil
}

func (c *Console) printStatus() {
	snap := c.session.Snapshot()
	fmt.Fprintf(c.out, "status: %s\n", snap.Status)
	if snap.Bulk != nil {
		fmt.Fprintf(c.out, "session: %d aircraft: %s\n", snap.Bulk.Session, snap.Bulk.Aircraft)
	}
	if f := snap.Frame; f != nil {
		fmt.Fprintf(c.out, "time: %.2f alt: %.1f m cas: %.1f m/s pitch: %.3f bank: %.3f\n",
			f.Time, f.Altitude(), f.CAS, f.Pitch, f.Bank)
	}
	if snap.Command != nil {
		fmt.Fprintf(c.out, "command: %s\n", snap.Command)
	}
	if snap.SendErr != nil {
		fmt.Fprintf(c.out, "send error: %v\n", snap.SendErr)
	}
	for _, ctrl := range c.session.Controllers() {
		state := "off"
		if ctrl.Enabled() {
			state = "on"
		}
		fmt.Fprintf(c.out, "  %-10s %s\n", ctrl.Name(), state)
	}
}
