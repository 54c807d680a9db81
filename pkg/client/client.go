package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dougsko/mm3d/pkg/protocol"
	"github.com/dougsko/mm3d/pkg/qsolog"
)

// ErrLineBreak is returned for a command containing CR or LF. The
// engine reads one command per line, so the rest would run as a second
// command.
var ErrLineBreak = errors.New("command contains a line break")

// CommandError is a failed response from the engine
type CommandError struct {
	Command string
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// SocketClient represents a client connection to the core engine
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SetTimeout changes the per-command deadline. Macro sends with a long
// settle need more than the default.
func (c *SocketClient) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SendCommand sends a command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	if strings.ContainsAny(cmd, "\r\n") {
		return nil, fmt.Errorf("%w: %q", ErrLineBreak, cmd)
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return &response, nil
}

// Do sends cmd and turns a failed response into a *CommandError
func (c *SocketClient) Do(cmd string) (*protocol.Response, error) {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		name := strings.SplitN(cmd, ":", 2)[0]
		return resp, &CommandError{Command: strings.ToUpper(name), Code: resp.Code, Message: resp.Error}
	}
	return resp, nil
}

func decode(resp *protocol.Response, key string, out interface{}) error {
	value, ok := resp.Data[key]
	if !ok {
		return fmt.Errorf("%s not found in response", key)
	}
	// Re-encode to convert the generic map into the typed value
	raw, _ := json.Marshal(value)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return nil
}

// GetStatus gets the current daemon status
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	resp, err := c.Do(protocol.CmdStatus)
	if err != nil {
		return nil, err
	}
	var status protocol.Status
	if err := decode(resp, "status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetQSOs returns the log in display order
func (c *SocketClient) GetQSOs() ([]qsolog.Entry, error) {
	return c.QueryQSOs(nil)
}

// QueryQSOs returns stored contacts matching filters (call, limit,
// offset, since, until). No filters returns the whole log.
func (c *SocketClient) QueryQSOs(filters map[string]string) ([]qsolog.Entry, error) {
	cmd := protocol.CmdQSOs
	if len(filters) > 0 {
		cmd += ":" + protocol.FormatPairs(filters)
	}
	resp, err := c.Do(cmd)
	if err != nil {
		return nil, err
	}
	var entries []qsolog.Entry
	if err := decode(resp, "qsos", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// LogQSO fills the entry fields and logs the contact
func (c *SocketClient) LogQSO(fields qsolog.Fields) (*qsolog.Entry, error) {
	updates := []struct{ field, value string }{
		{protocol.FieldCall, fields.Callsign},
		{protocol.FieldSent, fields.RSTSent},
		{protocol.FieldReceived, fields.RSTReceived},
		{protocol.FieldExchange, fields.ExchangeReceived},
	}
	for _, u := range updates {
		if strings.ContainsAny(u.value, "\r\n") {
			return nil, fmt.Errorf("%w: %s %q", ErrLineBreak, u.field, u.value)
		}
	}
	for _, u := range updates {
		if u.value == "" && (u.field == protocol.FieldSent || u.field == protocol.FieldReceived) {
			continue
		}
		if _, err := c.Do(fmt.Sprintf("%s:%s %s", protocol.CmdEntry, u.field, u.value)); err != nil {
			return nil, err
		}
	}

	resp, err := c.Do(protocol.CmdLog)
	if err != nil {
		return nil, err
	}
	var entry qsolog.Entry
	if err := decode(resp, "qso", &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteQSO removes the entry at display position nr
func (c *SocketClient) DeleteQSO(nr int) error {
	_, err := c.Do(fmt.Sprintf("%s:%d", protocol.CmdDelete, nr))
	return err
}

// SendMacro keys the macro in slot key
func (c *SocketClient) SendMacro(key string) (*protocol.Response, error) {
	return c.Do(fmt.Sprintf("%s:%s", protocol.CmdMacro, key))
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	_, err := c.Do(protocol.CmdPing)
	return err
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}
