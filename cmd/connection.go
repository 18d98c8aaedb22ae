// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"golang.org/x/term"

	"github.com/OpenAgricultureFoundation/gro-controller/internal/config"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/groduino"
)

// Connection is the raw byte channel to the groduino, either a local
// serial port or a WebSocket serial bridge
type Connection interface {
	io.ReadWriteCloser
}

// Arduino, Arduino.org, CH340 and FTDI adapters, in that order of preference
var groduinoVIDs = []string{"2341", "2A03", "1A86", "0403"}

// AutoSelectPort picks the port the groduino most likely sits on: a known
// Arduino-style USB adapter, then any USB port, then whatever exists.
func AutoSelectPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("enumerate ports: %w", err)
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}

	for _, vid := range groduinoVIDs {
		for _, p := range ports {
			if p.IsUSB && strings.EqualFold(p.VID, vid) {
				return p.Name, nil
			}
		}
	}
	for _, p := range ports {
		if p.IsUSB {
			return p.Name, nil
		}
	}
	return ports[0].Name, nil
}

// OpenSerialConnection opens name at baud 8N1 and drops whatever the
// board sent before we were listening. "auto" runs AutoSelectPort.
func OpenSerialConnection(name string, baud int) (Connection, error) {
	if name == "auto" {
		found, err := AutoSelectPort()
		if err != nil {
			return nil, err
		}
		name = found
	}

	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("flush serial port %s: %w", name, err)
	}
	return port, nil
}

// bridgeConn streams the binary messages of a WebSocket serial bridge as
// one byte stream. Text messages are bridge status chatter and skipped.
type bridgeConn struct {
	ws  *websocket.Conn
	msg io.Reader
}

func (b *bridgeConn) Read(p []byte) (int, error) {
	for {
		if b.msg != nil {
			n, err := b.msg.Read(p)
			if errors.Is(err, io.EOF) {
				b.msg = nil
				if n == 0 {
					continue
				}
				err = nil
			}
			return n, err
		}

		kind, r, err := b.ws.NextReader()
		if err != nil {
			return 0, err
		}
		if kind == websocket.BinaryMessage {
			b.msg = r
		}
	}
}

func (b *bridgeConn) Write(p []byte) (int, error) {
	if err := b.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *bridgeConn) Close() error {
	_ = b.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return b.ws.Close()
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// OpenWebSocketConnection dials a serial bridge. Credentials are sent as
// HTTP Basic auth when a username is given.
func OpenWebSocketConnection(bridgeURL, username, password string, skipVerify bool) (Connection, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported URL scheme %q (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipVerify}
	}
	header := http.Header{}
	if username != "" {
		header.Set("Authorization", basicAuth(username, password))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	ws, resp, err := dialer.DialContext(ctx, bridgeURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial bridge %s: HTTP %d: %w", u.Host, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial bridge %s: %w", u.Host, err)
	}
	return &bridgeConn{ws: ws}, nil
}

// GetPassword returns $GRO_PASSWORD, or asks for it on the terminal. A
// non-terminal stdin is read as one line.
func GetPassword() (string, error) {
	if pw := os.Getenv("GRO_PASSWORD"); pw != "" {
		return pw, nil
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// the bridge password survives reconnects so the daemon asks only once
var bridgePassword *string

func cachedPassword() (string, error) {
	if bridgePassword != nil {
		return *bridgePassword, nil
	}
	pw, err := GetPassword()
	if err != nil {
		return "", err
	}
	bridgePassword = &pw
	return pw, nil
}

// OpenConnection opens the bridge when a URL is configured and the serial
// port otherwise. The string describes the connection for logs.
func OpenConnection(cfg config.SerialConfig) (Connection, string, error) {
	switch {
	case cfg.URL != "":
		var password string
		if cfg.Username != "" {
			pw, err := cachedPassword()
			if err != nil {
				return nil, "", err
			}
			password = pw
		}
		conn, err := OpenWebSocketConnection(cfg.URL, cfg.Username, password, cfg.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, "WebSocket: " + cfg.URL, nil

	case cfg.Port != "":
		conn, err := OpenSerialConnection(cfg.Port, cfg.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", cfg.Port, cfg.Baud), nil

	default:
		return nil, "", errors.New("either --port or --url must be specified")
	}
}

// OpenStream opens the configured connection and starts pumping it into a
// groduino port
func OpenStream(cfg *config.Config) (*groduino.Port, string, error) {
	conn, info, err := OpenConnection(cfg.Serial)
	if err != nil {
		return nil, "", err
	}
	return groduino.NewPort(conn, cfg.Serial.PortCapacity), info, nil
}
