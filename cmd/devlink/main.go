package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/skobkin/devlink/internal/app"
	"github.com/skobkin/devlink/internal/bus"
	"github.com/skobkin/devlink/internal/config"
	"github.com/skobkin/devlink/internal/connectors"
	"github.com/skobkin/devlink/internal/link"
	"github.com/skobkin/devlink/internal/transport"
)

const sendTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("run devlink", "error", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	connector         string
	host              string
	port              int
	path              string
	useTLS            bool
	serialPort        string
	serialBaud        int
	reconnectDelay    time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	logLevel          string
	notify            bool
}

func run() error {
	var opts cliFlags
	configPath := flag.String("config", "", "config file (.json, .yaml or .yml); defaults to the user config dir")
	flag.StringVar(&opts.connector, "connector", "", "connector type: websocket or serial")
	flag.StringVar(&opts.host, "host", "", "device host name or IP")
	flag.IntVar(&opts.port, "port", 0, "device WebSocket port")
	flag.StringVar(&opts.path, "path", "", "device WebSocket path")
	flag.BoolVar(&opts.useTLS, "tls", false, "use wss://")
	flag.StringVar(&opts.serialPort, "serial-port", "", "serial port, e.g. /dev/ttyUSB0")
	flag.IntVar(&opts.serialBaud, "baud", 0, "serial baud rate")
	flag.DurationVar(&opts.reconnectDelay, "reconnect-delay", 0, "delay before reconnecting after connection loss")
	flag.DurationVar(&opts.heartbeatInterval, "heartbeat-interval", 0, "ping period")
	flag.DurationVar(&opts.heartbeatTimeout, "heartbeat-timeout", 0, "time to wait for pong")
	flag.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flag.BoolVar(&opts.notify, "notify", false, "enable desktop notifications")
	saveConfig := flag.Bool("save-config", false, "persist the effective config, flags included")
	showRaw := flag.Bool("raw", false, "print raw frames in both directions")
	listPorts := flag.Bool("list-ports", false, "list serial ports and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(app.Name, app.BuildVersionWithDate())
		return nil
	}
	if *listPorts {
		return printSerialPorts(os.Stdout)
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx, app.Options{
		ConfigPath: *configPath,
		Override: func(cfg *config.AppConfig) {
			applyOverrides(cfg, opts, set)
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	logger := rt.LogManager.Logger("cli")
	if *saveConfig {
		if err := rt.SaveConfig(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}

	out := &lockedWriter{w: os.Stdout}
	watch(ctx, rt.Bus, out, *showRaw)

	c := newConsole(out, rt.Link)
	c.printStatus(rt.Link.Snapshot())
	fmt.Fprintln(out, "type a message and press enter; /help lists commands")

	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, closing link")
			return nil
		case line, ok := <-lines:
			if !ok {
				// Input closed; keep printing until interrupted.
				lines = nil
				continue
			}
			if quit := c.handle(line); quit {
				return nil
			}
		}
	}
}

func applyOverrides(cfg *config.AppConfig, opts cliFlags, set map[string]bool) {
	if set["connector"] {
		cfg.Connection.Connector = config.ConnectorType(strings.ToLower(strings.TrimSpace(opts.connector)))
	}
	if set["host"] {
		cfg.Connection.Host = strings.TrimSpace(opts.host)
	}
	if set["port"] {
		cfg.Connection.Port = opts.port
	}
	if set["path"] {
		cfg.Connection.Path = opts.path
	}
	if set["tls"] {
		cfg.Connection.UseTLS = opts.useTLS
	}
	if set["serial-port"] {
		cfg.Connection.SerialPort = strings.TrimSpace(opts.serialPort)
		if !set["connector"] {
			cfg.Connection.Connector = config.ConnectorSerial
		}
	}
	if set["baud"] {
		cfg.Connection.SerialBaud = opts.serialBaud
	}
	if set["reconnect-delay"] {
		cfg.Link.ReconnectDelay = config.Duration(opts.reconnectDelay)
	}
	if set["heartbeat-interval"] {
		cfg.Link.HeartbeatInterval = config.Duration(opts.heartbeatInterval)
	}
	if set["heartbeat-timeout"] {
		cfg.Link.HeartbeatTimeout = config.Duration(opts.heartbeatTimeout)
	}
	if set["log-level"] {
		cfg.Logging.Level = opts.logLevel
	}
	if set["notify"] {
		cfg.Notifications.Enabled = opts.notify
	}
}

func printSerialPorts(out io.Writer) error {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(out, "no serial ports found")
		return nil
	}
	for _, port := range ports {
		fmt.Fprintln(out, port)
	}

	return nil
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	return lines
}

// linkControl is the part of the link the console drives.
type linkControl interface {
	Connect()
	SendMessage(text string) <-chan link.SendResult
	Snapshot() connectors.ConnectionStatus
	Messages() []string
}

type console struct {
	out  io.Writer
	link linkControl
}

func newConsole(out io.Writer, l linkControl) *console {
	return &console{out: out, link: l}
}

// handle runs one input line and reports whether the user asked to quit.
func (c *console) handle(line string) bool {
	text := strings.TrimSpace(line)
	switch text {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(c.out, "/status     show connection status")
		fmt.Fprintln(c.out, "/messages   list received messages")
		fmt.Fprintln(c.out, "/reconnect  open a new connection now")
		fmt.Fprintln(c.out, "/quit       close the connection and exit")
		fmt.Fprintln(c.out, "anything else is sent to the device")
	case "/status":
		c.printStatus(c.link.Snapshot())
	case "/messages":
		messages := c.link.Messages()
		if len(messages) == 0 {
			fmt.Fprintln(c.out, "no messages yet")
		}
		for i, msg := range messages {
			fmt.Fprintf(c.out, "%3d  %s\n", i+1, msg)
		}
	case "/reconnect":
		c.link.Connect()
	default:
		c.send(line)
	}

	return false
}

func (c *console) send(text string) {
	select {
	case res := <-c.link.SendMessage(text):
		if res.Err != nil {
			if errors.Is(res.Err, link.ErrNotConnected) {
				fmt.Fprintf(c.out, "! not sent: %s\n", c.link.Snapshot().State.Label())
				return
			}
			fmt.Fprintf(c.out, "! send failed: %v\n", res.Err)
			return
		}
		fmt.Fprintf(c.out, "> %s\n", text)
	case <-time.After(sendTimeout):
		fmt.Fprintln(c.out, "! send timed out")
	}
}

func (c *console) printStatus(status connectors.ConnectionStatus) {
	fmt.Fprintln(c.out, formatStatus(status))
}

func formatStatus(status connectors.ConnectionStatus) string {
	line := "[" + status.State.Label() + "]"
	if target := strings.TrimSpace(status.Target); target != "" {
		line += " " + target
	}
	if errText := strings.TrimSpace(status.Err); errText != "" {
		line += " (" + errText + ")"
	}

	return line
}

func watch(ctx context.Context, b bus.MessageBus, out io.Writer, showRaw bool) {
	statusSub := b.Subscribe(connectors.TopicConnStatus)
	msgSub := b.Subscribe(connectors.TopicMessage)
	var rawInSub, rawOutSub bus.Subscription
	if showRaw {
		rawInSub = b.Subscribe(connectors.TopicRawFrameIn)
		rawOutSub = b.Subscribe(connectors.TopicRawFrameOut)
	}

	go func() {
		defer b.Unsubscribe(statusSub, connectors.TopicConnStatus)
		defer b.Unsubscribe(msgSub, connectors.TopicMessage)
		if showRaw {
			defer b.Unsubscribe(rawInSub, connectors.TopicRawFrameIn)
			defer b.Unsubscribe(rawOutSub, connectors.TopicRawFrameOut)
		}

		for {
			var line string
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-statusSub:
				if !ok {
					return
				}
				if status, ok := raw.(connectors.ConnectionStatus); ok {
					line = formatStatus(status)
				}
			case raw, ok := <-msgSub:
				if !ok {
					return
				}
				if msg, ok := raw.(connectors.Message); ok {
					line = "< " + msg.Payload
				}
			case raw, ok := <-rawInSub:
				if !ok {
					return
				}
				if frame, ok := raw.(connectors.RawFrame); ok {
					line = formatRawFrame("<<", frame)
				}
			case raw, ok := <-rawOutSub:
				if !ok {
					return
				}
				if frame, ok := raw.(connectors.RawFrame); ok {
					line = formatRawFrame(">>", frame)
				}
			}
			if line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}()
}

func formatRawFrame(direction string, frame connectors.RawFrame) string {
	return fmt.Sprintf("%s [%d] %s", direction, frame.Len, frame.Text)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.w.Write(p)
}
