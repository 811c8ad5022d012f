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
	"bytes"
	"errors"
	"io"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//----------------------------------------------------------------------
// test doubles
//----------------------------------------------------------------------

// scriptTransport is an in-memory host link.
type scriptTransport struct {
	in  []byte
	out bytes.Buffer
}

func (t *scriptTransport) Buffered() int {
	return len(t.in)
}

func (t *scriptTransport) ReadByte() (byte, error) {
	if len(t.in) == 0 {
		return 0, errNoData
	}
	c := t.in[0]
	t.in = t.in[1:]
	return c, nil
}

func (t *scriptTransport) Write(data []byte) (int, error) {
	return t.out.Write(data)
}

// push queues host input.
func (t *scriptTransport) push(s string) {
	t.in = append(t.in, s...)
}

// lines returns the non-empty response lines emitted so far.
func (t *scriptTransport) lines() []string {
	lines := []string{}
	for _, l := range strings.Split(t.out.String(), "\n") {
		if len(l) > 0 {
			lines = append(lines, l)
		}
	}
	return lines
}

// fakeConn is a scriptable TCP session.
type fakeConn struct {
	rx     []byte       // inbound bytes to deliver
	sent   bytes.Buffer // outbound payloads
	up     bool
	closed bool
}

func (c *fakeConn) Write(data []byte) (int, error) {
	if !c.up {
		return 0, io.ErrClosedPipe
	}
	return c.sent.Write(data)
}

func (c *fakeConn) Buffered() int {
	return len(c.rx)
}

func (c *fakeConn) Read(data []byte) (int, error) {
	n := copy(data, c.rx)
	c.rx = c.rx[n:]
	return n, nil
}

func (c *fakeConn) Connected() bool {
	return c.up
}

func (c *fakeConn) Close() error {
	c.up = false
	c.closed = true
	return nil
}

// fakeProvider is a scriptable wireless backend.
type fakeProvider struct {
	connected   bool
	joinFail    bool // association never comes up
	joinDelay   int  // polls before the association holds
	joinErr     error
	ssid        string
	addr        netip.Addr
	rssi        int
	nets        []Network
	scanErr     error
	dialErr     error
	conns       []*fakeConn
	lastDial    string
	joins       int
	disconnects int
}

func (p *fakeProvider) Join(ssid, passwd string) error {
	p.joins++
	if p.joinErr != nil {
		return p.joinErr
	}
	if !p.joinFail {
		p.connected = true
		p.ssid = ssid
	}
	return nil
}

func (p *fakeProvider) Disconnect() error {
	p.disconnects++
	p.connected = false
	p.ssid = ""
	return nil
}

func (p *fakeProvider) Connected() bool {
	if p.joinDelay > 0 {
		p.joinDelay--
		return false
	}
	return p.connected
}

func (p *fakeProvider) SSID() string {
	return p.ssid
}

func (p *fakeProvider) LocalAddr() (netip.Addr, error) {
	if !p.addr.IsValid() {
		return netip.Addr{}, errors.New("no address")
	}
	return p.addr, nil
}

func (p *fakeProvider) RSSI() (int, error) {
	return p.rssi, nil
}

func (p *fakeProvider) Scan() ([]Network, error) {
	return p.nets, p.scanErr
}

func (p *fakeProvider) DialTCP(host string, port uint16) (Conn, error) {
	p.lastDial = host
	if p.dialErr != nil {
		return nil, p.dialErr
	}
	conn := &fakeConn{up: true}
	p.conns = append(p.conns, conn)
	return conn, nil
}

// newTestBridge wires a bridge with a tight association poll policy.
func newTestBridge(prov *fakeProvider) (*Bridge, *scriptTransport) {
	tr := new(scriptTransport)
	b := NewBridge(tr, prov, Config{
		JoinAttempts: 3,
		JoinInterval: time.Nanosecond,
	})
	return b, tr
}

// run executes one command line through a full tick and returns the
// response lines it produced.
func run(b *Bridge, tr *scriptTransport, cmd string) []string {
	tr.out.Reset()
	tr.push(cmd + "\n")
	b.Step()
	return tr.lines()
}

//----------------------------------------------------------------------
// tests
//----------------------------------------------------------------------

func TestBanner(t *testing.T) {
	t.Parallel()

	b, tr := newTestBridge(new(fakeProvider))
	b.Banner()
	assert.Equal(t, []string{"READY", Version, "Waiting for commands..."}, tr.lines())
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	b, tr := newTestBridge(new(fakeProvider))
	assert.Equal(t, []string{"ERROR:Unknown command: FOO:bar"}, run(b, tr, "FOO:bar"))
}

func TestMalformedConnect(t *testing.T) {
	t.Parallel()

	b, tr := newTestBridge(new(fakeProvider))
	assert.Equal(t,
		[]string{"ERROR:Invalid CONNECT format. Use CONNECT:SSID:PASSWORD"},
		run(b, tr, "CONNECT:OnlySSID"))
}

func TestConnectSuccess(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{
		joinDelay: 2,
		addr:      netip.MustParseAddr("10.0.0.9"),
	}
	b, tr := newTestBridge(prov)
	// two waiting polls emit two progress dots
	assert.Equal(t,
		[]string{"CONNECTING:Home", "..", "OK:Connected", "IP:10.0.0.9"},
		run(b, tr, "CONNECT:Home:secret"))
	assert.Equal(t, 1, prov.joins)
	assert.Equal(t, "Home", prov.ssid)
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{joinFail: true}
	b, tr := newTestBridge(prov)
	// all three poll attempts pass: three dots, then the error
	assert.Equal(t,
		[]string{"CONNECTING:Home", "...", "ERROR:Connection failed"},
		run(b, tr, "CONNECT:Home:wrong"))
}

func TestStatus(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{
		connected: true,
		ssid:      "Home",
		addr:      netip.MustParseAddr("10.0.0.9"),
		rssi:      -42,
	}
	b, tr := newTestBridge(prov)
	assert.Equal(t,
		[]string{"STATUS:CONNECTED", "SSID:Home", "IP:10.0.0.9", "RSSI:-42 dBm"},
		run(b, tr, "STATUS"))

	prov.connected = false
	assert.Equal(t, []string{"STATUS:DISCONNECTED"}, run(b, tr, "STATUS"))
}

func TestScanEmpty(t *testing.T) {
	t.Parallel()

	b, tr := newTestBridge(new(fakeProvider))
	assert.Equal(t, []string{"SCANNING...", "SCAN:No networks found"}, run(b, tr, "SCAN"))
}

func TestScanResults(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{nets: []Network{
		{SSID: "Cafe", RSSI: -30, Open: true},
		{SSID: "Home", RSSI: -55, Open: false},
	}}
	b, tr := newTestBridge(prov)
	// provider order is kept; everything not open is SECURED
	assert.Equal(t, []string{
		"SCANNING...",
		"SCAN:Found 2 networks",
		"NETWORK:Cafe:-30:OPEN",
		"NETWORK:Home:-55:SECURED",
	}, run(b, tr, "SCAN"))
}

func TestScanFailure(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{scanErr: errors.New("radio busy")}
	b, tr := newTestBridge(prov)
	assert.Equal(t, []string{"SCANNING...", "ERROR:Scan failed"}, run(b, tr, "SCAN"))
}

func TestDisconnectIdempotent(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{connected: true}
	b, tr := newTestBridge(prov)
	assert.Equal(t, []string{"OK:Disconnected"}, run(b, tr, "DISCONNECT"))
	assert.Equal(t, []string{"OK:Disconnected"}, run(b, tr, "DISCONNECT"))
	assert.Equal(t, 2, prov.disconnects)
}

func TestGetIP(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{connected: true, addr: netip.MustParseAddr("192.168.4.17")}
	b, tr := newTestBridge(prov)
	assert.Equal(t, []string{"IP:192.168.4.17"}, run(b, tr, "IP"))

	prov.connected = false
	assert.Equal(t, []string{"ERROR:Not connected to WiFi"}, run(b, tr, "IP"))
}

func TestTCPSendWithoutSession(t *testing.T) {
	t.Parallel()

	prov := new(fakeProvider)
	b, tr := newTestBridge(prov)
	assert.Equal(t, []string{"ERROR:Not connected"}, run(b, tr, "TCPSEND:hello"))
	// the association subsystem is untouched
	assert.Equal(t, 0, prov.joins)
	assert.Equal(t, 0, prov.disconnects)
}

func TestTCPConnectAndSend(t *testing.T) {
	t.Parallel()

	prov := new(fakeProvider)
	b, tr := newTestBridge(prov)
	assert.Equal(t,
		[]string{"TCP:Connecting to 10.0.0.5:8080", "OK:TCP connected"},
		run(b, tr, "TCPCONNECT:10.0.0.5:8080"))
	require.Len(t, prov.conns, 1)

	assert.Equal(t, []string{"OK:Data sent"}, run(b, tr, "TCPSEND:key:value with spaces"))
	assert.Equal(t, "key:value with spaces", prov.conns[0].sent.String())
}

func TestTCPConnectFailure(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{dialErr: errors.New("refused")}
	b, tr := newTestBridge(prov)
	assert.Equal(t,
		[]string{"TCP:Connecting to 10.0.0.5:80", "ERROR:TCP connection failed"},
		run(b, tr, "TCPCONNECT:10.0.0.5:80"))
	assert.Equal(t, []string{"ERROR:Not connected"}, run(b, tr, "TCPSEND:x"))
}

func TestTCPConnectSupersedes(t *testing.T) {
	t.Parallel()

	prov := new(fakeProvider)
	b, tr := newTestBridge(prov)
	run(b, tr, "TCPCONNECT:10.0.0.5:80")
	run(b, tr, "TCPCONNECT:10.0.0.6:81")
	require.Len(t, prov.conns, 2)
	// the first session is released without any warning line
	assert.True(t, prov.conns[0].closed)
	assert.True(t, prov.conns[1].up)
}

func TestTCPCloseTwice(t *testing.T) {
	t.Parallel()

	prov := new(fakeProvider)
	b, tr := newTestBridge(prov)
	run(b, tr, "TCPCONNECT:10.0.0.5:80")
	assert.Equal(t, []string{"OK:TCP connection closed"}, run(b, tr, "TCPCLOSE"))
	assert.Equal(t, []string{"ERROR:No active TCP connection"}, run(b, tr, "TCPCLOSE"))
}

func TestTCPSendAfterDrop(t *testing.T) {
	t.Parallel()

	prov := new(fakeProvider)
	b, tr := newTestBridge(prov)
	run(b, tr, "TCPCONNECT:10.0.0.5:80")
	// the peer went away between commands
	prov.conns[0].up = false
	assert.Equal(t, []string{"ERROR:Not connected"}, run(b, tr, "TCPSEND:late"))
}

func TestInboundDataAggregated(t *testing.T) {
	t.Parallel()

	prov := new(fakeProvider)
	b, tr := newTestBridge(prov)
	run(b, tr, "TCPCONNECT:10.0.0.5:80")

	// several packets arrived since the last tick: one TCPDATA line
	prov.conns[0].rx = []byte("chunk1chunk2")
	tr.out.Reset()
	b.Step()
	assert.Equal(t, []string{"TCPDATA:chunk1chunk2"}, tr.lines())

	// nothing pending: no output at all
	tr.out.Reset()
	b.Step()
	assert.Empty(t, tr.lines())
}

func TestInboundWithoutSession(t *testing.T) {
	t.Parallel()

	b, tr := newTestBridge(new(fakeProvider))
	b.Step()
	assert.Empty(t, tr.lines())
}

func TestLineTooLong(t *testing.T) {
	t.Parallel()

	b, tr := newTestBridge(new(fakeProvider))
	tr.push(strings.Repeat("x", maxLineLen+1) + "\n")
	b.Step()
	assert.Equal(t, []string{"ERROR:Line too long"}, tr.lines())

	// the loop recovered: the next command works
	assert.Equal(t, []string{"STATUS:DISCONNECTED"}, run(b, tr, "STATUS"))
}

func TestCRLFFraming(t *testing.T) {
	t.Parallel()

	b, tr := newTestBridge(new(fakeProvider))
	// CRLF framing must not produce empty "unknown command" responses
	tr.push("STATUS\r\nSTATUS\r\n")
	b.Step()
	assert.Equal(t, []string{"STATUS:DISCONNECTED", "STATUS:DISCONNECTED"}, tr.lines())
}

func TestMultipleCommandsPerTick(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{connected: true, addr: netip.MustParseAddr("10.0.0.9")}
	b, tr := newTestBridge(prov)
	tr.push("IP\nFOO\n")
	b.Step()
	assert.Equal(t, []string{"IP:10.0.0.9", "ERROR:Unknown command: FOO"}, tr.lines())
}
