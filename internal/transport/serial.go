package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

const defaultSerialReadTimeout = 300 * time.Millisecond

// SerialTransport exchanges newline-delimited text messages with a device on
// a serial port. There is no closing handshake; the close code given to
// Close is reported back to the pending reader.
type SerialTransport struct {
	portName string
	baudRate int

	mu        sync.Mutex
	port      serial.Port
	reader    *lineReader
	closeCode int
	closeMsg  string
	writeMu   sync.Mutex
}

func NewSerialTransport(portName string, baudRate int) *SerialTransport {
	return &SerialTransport{
		portName: portName,
		baudRate: baudRate,
	}
}

func (t *SerialTransport) Name() string {
	return "serial"
}

func (t *SerialTransport) StatusTarget() string {
	if t.portName == "" {
		return ""
	}

	return fmt.Sprintf("%s@%d", t.portName, t.baudRate)
}

func (t *SerialTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.port != nil
}

func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger(t.Name(), t.portName)
	if t.port != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.portName == "" {
		return errors.New("serial port is empty")
	}
	if t.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", t.baudRate)
	}

	logger.Info("opening port", "baud", t.baudRate)
	port, err := serial.Open(t.portName, &serial.Mode{BaudRate: t.baudRate})
	if err != nil {
		logger.Warn("open port failed", "error", err)

		return fmt.Errorf("open serial port %q: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()

		return fmt.Errorf("set serial read timeout: %w", err)
	}
	t.port = port
	t.reader = newLineReader(port, maxMessageSize)
	t.closeCode = 0
	t.closeMsg = ""
	logger.Info("connected")

	return nil
}

func (t *SerialTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger(t.Name(), t.portName, "code", code)
	if t.port == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}
	t.closeCode = code
	t.closeMsg = reason
	err := t.port.Close()
	t.port = nil
	if err != nil {
		logger.Warn("close failed", "error", err)

		return err
	}
	logger.Info("closed", "reason", reason)

	return nil
}

func (t *SerialTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	reader := t.reader
	connected := t.port != nil
	t.mu.Unlock()
	if !connected || reader == nil {
		return nil, t.closedErr(ErrNotConnected)
	}

	payload, err := reader.next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &CloseError{Code: CloseAbnormal, Reason: "serial port closed"}
		}

		return nil, t.closedErr(err)
	}

	return payload, nil
}

func (t *SerialTransport) WriteMessage(ctx context.Context, payload []byte) error {
	port, err := t.currentPort()
	if err != nil {
		return err
	}

	line, err := encodeLine(payload)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := writeFull(ctx, port, line); err != nil {
		return fmt.Errorf("write line: %w", err)
	}

	return nil
}

func (t *SerialTransport) currentPort() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, ErrNotConnected
	}

	return t.port, nil
}

// closedErr reports a local Close as a CloseError so readers see its code.
func (t *SerialTransport) closedErr(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closeCode != 0 {
		return &CloseError{Code: t.closeCode, Reason: t.closeMsg}
	}

	return err
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}

	return nil
}

// ListSerialPorts returns the serial port names known to the OS.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}

	return ports, nil
}
