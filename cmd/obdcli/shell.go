package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"go.uber.org/zap"

	"obd-service/internal/discovery"
	"obd-service/internal/discovery/serial"
	"obd-service/internal/discovery/usb"
	"obd-service/internal/obd"
	"obd-service/internal/telemetry"
)

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
	defaultWatch      = 5 * time.Second
	watchRefresh      = 500 * time.Millisecond
)

// Shell is an interactive adapter console.
type Shell struct {
	Shell    *ishell.Shell
	Adapter  *obd.Adapter
	scanners *discovery.ScannerManager
	configFn func(path string) obd.Config
	logger   *zap.Logger
}

// NewShell creates a shell; configFn maps a device path to adapter settings.
func NewShell(logger *zap.Logger, configFn func(path string) obd.Config) *Shell {
	s := &Shell{
		Shell:    ishell.New(),
		scanners: discovery.NewScannerManager(logger),
		configFn: configFn,
		logger:   logger,
	}
	s.scanners.RegisterScanner(serial.NewScanner(logger))
	s.scanners.RegisterScanner(usb.NewScanner(logger))

	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

func shellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

func mustBeConnected(fn func(c *ishell.Context, a *obd.Adapter)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		a := shellFrom(c).Adapter
		if a == nil {
			c.Err(obd.ErrNotConnected)
			return
		}
		fn(c, a)
	}
}

// Connect opens and initializes the adapter at path, replacing any
// current one.
func (s *Shell) Connect(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := obd.Connect(ctx, s.configFn(path), s.logger)
	if err != nil {
		return err
	}
	s.Disconnect()
	s.Adapter = a
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", path))
	return nil
}

// Disconnect closes the current adapter.
func (s *Shell) Disconnect() {
	if s.Adapter == nil {
		return
	}
	if err := s.Adapter.Close(); err != nil {
		s.logger.Warn("Failed to close adapter", zap.Error(err))
	}
	s.Adapter = nil
	s.Shell.SetPrompt(unconnectedPrompt)
}

// FormatResponse renders a raw reply and the bytes parsed from it.
func FormatResponse(r obd.Response) string {
	parsed := r.Bytes()

	var w strings.Builder
	fmt.Fprintf(&w, "raw:    %q\n", r.String())
	fmt.Fprintf(&w, "bytes:  %s\n", strings.ToUpper(hex.EncodeToString(parsed)))
	fmt.Fprintf(&w, "prompt: %t (%s)", r.Prompted, r.Elapsed.Round(time.Millisecond))
	return w.String()
}

var decoders = map[string]struct {
	extract func([]byte) int
	unit    string
}{
	obd.PIDEngineRPM.String():    {obd.ExtractRPM, "rpm"},
	obd.PIDVehicleSpeed.String(): {obd.ExtractSpeed, "km/h"},
	obd.PIDCoolantTemp.String():  {obd.ExtractCoolantTemp, "C"},
}

// DecodeReply renders the value of a known PID query, or "" for any other
// command.
func DecodeReply(cmd string, r obd.Response) string {
	d, ok := decoders[strings.ToUpper(cmd)]
	if !ok {
		return ""
	}
	return fmt.Sprintf("value:  %d %s", d.extract(r.Bytes()), d.unit)
}

// FormatSendError explains a failed exchange.
func FormatSendError(err error) string {
	if obd.IsTimeout(err) {
		return "no response from adapter: " + err.Error()
	}
	return err.Error()
}

// FormatSnapshot renders one telemetry line.
func FormatSnapshot(snap telemetry.Snapshot) string {
	value := func(v int, unit string) string {
		if v == obd.Unavailable {
			return "--"
		}
		return strconv.Itoa(v) + unit
	}
	return fmt.Sprintf("rpm=%s speed=%s temp=%s",
		value(snap.RPM, ""),
		value(snap.Speed, "km/h"),
		value(snap.Temperature, "C"),
	)
}

// watchDuration parses the optional seconds argument.
func watchDuration(args []string) (time.Duration, error) {
	if len(args) == 0 {
		return defaultWatch, nil
	}
	secs, err := strconv.Atoi(args[0])
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("invalid duration %q", args[0])
	}
	return time.Duration(secs) * time.Second, nil
}

func measurementCmd(name string, read func(*obd.Adapter, context.Context) (int, error)) *ishell.Cmd {
	return &ishell.Cmd{
		Name: name,
		Help: "query " + name,
		Func: mustBeConnected(func(c *ishell.Context, a *obd.Adapter) {
			v, err := read(a, context.Background())
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(v)
		}),
	}
}

var (
	portsCmd = &ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"list", "l"},
		Help:    "list serial ports",
		Func: func(c *ishell.Context) {
			ports, err := shellFrom(c).scanners.ScanAll(context.Background())
			if err != nil {
				c.Err(err)
				return
			}
			if len(ports) == 0 {
				c.Println("No ports found")
				return
			}
			for _, p := range ports {
				line := fmt.Sprintf("%-16s %-10s %.1f", p.Path, p.Kind, p.Confidence)
				if p.Bridge != "" {
					line += "  " + p.Bridge
				}
				c.Println(line)
			}
		},
	}

	connectCmd = &ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "PATH",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("usage: connect PATH"))
				return
			}
			if err := shellFrom(c).Connect(c.Args[0]); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		},
	}

	disconnectCmd = &ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Func: func(c *ishell.Context) {
			shellFrom(c).Disconnect()
		},
	}

	sendCmd = &ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "COMMAND",
		Func: mustBeConnected(func(c *ishell.Context, a *obd.Adapter) {
			if len(c.Args) == 0 {
				c.Err(fmt.Errorf("usage: send COMMAND"))
				return
			}
			cmd := strings.Join(c.Args, "")
			r, err := a.SendCommand(context.Background(), cmd)
			if err != nil {
				c.Println(FormatSendError(err))
				return
			}
			c.Println(FormatResponse(r))
			if value := DecodeReply(cmd, r); value != "" {
				c.Println(value)
			}
		}),
	}

	watchCmd = &ishell.Cmd{
		Name:    "watch",
		Aliases: []string{"w"},
		Help:    "[SECONDS]",
		Func: mustBeConnected(func(c *ishell.Context, a *obd.Adapter) {
			d, err := watchDuration(c.Args)
			if err != nil {
				c.Err(err)
				return
			}

			state := telemetry.NewState()
			poller := telemetry.NewPoller(a, state, telemetry.DefaultInterval, shellFrom(c).logger)
			ctx, cancel := context.WithTimeout(context.Background(), d)
			defer cancel()
			if err := poller.Start(ctx); err != nil {
				c.Err(err)
				return
			}
			defer poller.Stop()

			ticker := time.NewTicker(watchRefresh)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.Println(FormatSnapshot(state.Snapshot()))
				}
			}
		}),
	}

	commands = []*ishell.Cmd{
		portsCmd,
		connectCmd,
		disconnectCmd,
		sendCmd,
		watchCmd,
		measurementCmd("rpm", (*obd.Adapter).ReadRPM),
		measurementCmd("speed", (*obd.Adapter).ReadSpeed),
		measurementCmd("temp", (*obd.Adapter).ReadCoolantTemp),
	}
)
