//----------------------------------------------------------------------
// This file is part of wifibridge.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// wifibridge is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// wifibridge is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package wifibridge

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Version line sent as part of the startup banner.
const Version = "wifibridge v1.0"

const (
	// association poll policy: 20 attempts, 500ms apart (10s budget)
	defJoinAttempts = 20
	defJoinInterval = 500 * time.Millisecond

	// pause between scheduling ticks
	tickDelay = 10 * time.Millisecond
)

// Config for a Bridge.
type Config struct {
	// Logger for diagnostics. Defaults to a silent logger; diagnostics
	// must never share the transport with the command protocol.
	Logger *slog.Logger
	// JoinAttempts/JoinInterval override the association poll policy
	// (zero values select the defaults).
	JoinAttempts int
	JoinInterval time.Duration
}

// Bridge runs the command protocol between the host transport and the
// wireless provider: a single cooperative loop that parses command
// lines, executes them one at a time and forwards inbound TCP data.
// No command failure ever terminates the loop.
type Bridge struct {
	tr    Transport
	prov  Provider
	log   *slog.Logger
	lines LineBuffer
	conn  Conn // active TCP session (nil if idle)

	joinAttempts int
	joinInterval time.Duration
}

// NewBridge creates a bridge on the given transport and provider.
func NewBridge(tr Transport, prov Provider, cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127), // logger that does no logging
		}))
	}
	if cfg.JoinAttempts == 0 {
		cfg.JoinAttempts = defJoinAttempts
	}
	if cfg.JoinInterval == 0 {
		cfg.JoinInterval = defJoinInterval
	}
	return &Bridge{
		tr:           tr,
		prov:         prov,
		log:          logger,
		joinAttempts: cfg.JoinAttempts,
		joinInterval: cfg.JoinInterval,
	}
}

// Banner announces the bridge to the host. Receipt of "READY" is the
// handshake signal that the bridge is live.
func (b *Bridge) Banner() {
	b.respond("READY")
	b.respond(Version)
	b.respond("Waiting for commands...")
}

// Run executes the control loop; it does not return.
func (b *Bridge) Run() {
	b.Banner()
	for {
		b.Step()
		time.Sleep(tickDelay)
	}
}

// Step performs one scheduling tick: drain and execute all complete
// command lines, then poll the TCP session for inbound data.
func (b *Bridge) Step() {
	for b.tr.Buffered() > 0 {
		c, err := b.tr.ReadByte()
		if err != nil {
			b.log.Error("transport read", slog.String("err", err.Error()))
			break
		}
		line, ok, err := b.lines.Feed(c)
		if err != nil {
			b.respond("ERROR:Line too long")
			continue
		}
		if ok {
			b.dispatch(ParseCommand(line))
		}
	}
	b.pollInbound()
}

// dispatch executes one command and writes its response lines.
func (b *Bridge) dispatch(cmd Command) {
	switch c := cmd.(type) {
	case CmdConnect:
		b.doConnect(c)
	case CmdStatus:
		b.doStatus()
	case CmdScan:
		b.doScan()
	case CmdDisconnect:
		if err := b.prov.Disconnect(); err != nil {
			b.log.Error("disconnect", slog.String("err", err.Error()))
		}
		b.respond("OK:Disconnected")
	case CmdTCPConnect:
		b.doTCPConnect(c)
	case CmdTCPSend:
		b.doTCPSend(c)
	case CmdTCPClose:
		b.doTCPClose()
	case CmdGetIP:
		b.doGetIP()
	case CmdUnknown:
		if len(c.Reason) > 0 {
			b.respond("ERROR:" + c.Reason)
		} else {
			b.respond("ERROR:Unknown command: " + c.Raw)
		}
	}
}

// doConnect starts the association and polls its progress, emitting one
// dot per waiting interval. This is the only intentionally blocking
// command; the poll budget bounds the latency spike.
func (b *Bridge) doConnect(c CmdConnect) {
	b.respond("CONNECTING:" + c.SSID)
	if err := b.prov.Join(c.SSID, c.Passwd); err != nil {
		b.log.Error("join", slog.String("ssid", c.SSID), slog.String("err", err.Error()))
	}
	for range b.joinAttempts {
		if b.prov.Connected() {
			break
		}
		time.Sleep(b.joinInterval)
		b.write([]byte("."))
	}
	b.write([]byte("\n"))
	if !b.prov.Connected() {
		b.respond("ERROR:Connection failed")
		return
	}
	b.respond("OK:Connected")
	addr, err := b.prov.LocalAddr()
	if err != nil {
		b.log.Error("local addr", slog.String("err", err.Error()))
		return
	}
	b.respond("IP:" + addr.String())
}

func (b *Bridge) doStatus() {
	if !b.prov.Connected() {
		b.respond("STATUS:DISCONNECTED")
		return
	}
	b.respond("STATUS:CONNECTED")
	b.respond("SSID:" + b.prov.SSID())
	addr, _ := b.prov.LocalAddr()
	b.respond("IP:" + addr.String())
	rssi, _ := b.prov.RSSI()
	b.respond(fmt.Sprintf("RSSI:%d dBm", rssi))
}

// doScan lists visible networks in provider order. Everything but an
// open network is reported SECURED so the wire vocabulary stays stable.
func (b *Bridge) doScan() {
	b.respond("SCANNING...")
	nets, err := b.prov.Scan()
	if err != nil {
		b.log.Error("scan", slog.String("err", err.Error()))
		b.respond("ERROR:Scan failed")
		return
	}
	if len(nets) == 0 {
		b.respond("SCAN:No networks found")
		return
	}
	b.respond(fmt.Sprintf("SCAN:Found %d networks", len(nets)))
	for _, n := range nets {
		enc := "SECURED"
		if n.Open {
			enc = "OPEN"
		}
		b.respond(fmt.Sprintf("NETWORK:%s:%d:%s", n.SSID, n.RSSI, enc))
	}
}

// doTCPConnect opens the outbound session. A prior session is silently
// superseded and released.
func (b *Bridge) doTCPConnect(c CmdTCPConnect) {
	b.respond(fmt.Sprintf("TCP:Connecting to %s:%d", c.Host, c.Port))
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			b.log.Error("close stale session", slog.String("err", err.Error()))
		}
		b.conn = nil
	}
	conn, err := b.prov.DialTCP(c.Host, c.Port)
	if err != nil {
		b.log.Error("tcp dial", slog.String("host", c.Host), slog.String("err", err.Error()))
		b.respond("ERROR:TCP connection failed")
		return
	}
	b.conn = conn
	b.respond("OK:TCP connected")
}

func (b *Bridge) doTCPSend(c CmdTCPSend) {
	if b.conn == nil || !b.conn.Connected() {
		b.respond("ERROR:Not connected")
		return
	}
	if _, err := b.conn.Write([]byte(c.Payload)); err != nil {
		b.log.Error("tcp send", slog.String("err", err.Error()))
		b.dropSession()
		b.respond("ERROR:Not connected")
		return
	}
	b.respond("OK:Data sent")
}

func (b *Bridge) doTCPClose() {
	if b.conn == nil || !b.conn.Connected() {
		b.dropSession()
		b.respond("ERROR:No active TCP connection")
		return
	}
	b.dropSession()
	b.respond("OK:TCP connection closed")
}

func (b *Bridge) doGetIP() {
	if !b.prov.Connected() {
		b.respond("ERROR:Not connected to WiFi")
		return
	}
	addr, err := b.prov.LocalAddr()
	if err != nil {
		b.respond("ERROR:Not connected to WiFi")
		return
	}
	b.respond("IP:" + addr.String())
}

// pollInbound forwards buffered inbound TCP data to the host. All bytes
// seen in the same tick are drained into a single TCPDATA line; data is
// never held back for a later tick.
func (b *Bridge) pollInbound() {
	if b.conn == nil || !b.conn.Connected() {
		return
	}
	if b.conn.Buffered() == 0 {
		return
	}
	var data []byte
	var buf [256]byte
	for b.conn.Buffered() > 0 {
		n, err := b.conn.Read(buf[:])
		if err != nil {
			b.log.Error("tcp recv", slog.String("err", err.Error()))
			break
		}
		data = append(data, buf[:n]...)
	}
	if len(data) == 0 {
		return
	}
	b.write([]byte("TCPDATA:"))
	b.write(data)
	b.write([]byte("\n"))
}

// dropSession releases the TCP session (safe to call with none open).
func (b *Bridge) dropSession() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Close(); err != nil {
		b.log.Error("tcp close", slog.String("err", err.Error()))
	}
	b.conn = nil
}

// respond writes one newline-terminated response line to the host.
func (b *Bridge) respond(line string) {
	b.write([]byte(line))
	b.write([]byte("\n"))
}

func (b *Bridge) write(data []byte) {
	if _, err := b.tr.Write(data); err != nil {
		b.log.Error("transport write", slog.String("err", err.Error()))
	}
}
