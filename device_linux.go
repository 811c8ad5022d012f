//go:build !rp2350

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
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/mdlayher/wifi"
)

// LinuxDevice (for testing purposes)
type LinuxDevice struct{}

// LED on or off (not applicable)
func (dev *LinuxDevice) LED(on bool) {}

// Initialize device
func InitDevice() (dev Device) {
	return new(LinuxDevice)
}

// Error messages
var (
	errNoIPv4 = errors.New("no IPv4 address on interface")
)

// linuxProvider drives the kernel wireless stack over nl80211 and uses
// the kernel TCP stack for the outbound session. Scanning shells out to
// iwlist; the nl80211 client library offers no scan call.
type linuxProvider struct {
	cfg ProviderConfig
	log *slog.Logger
}

// NewProvider returns the wireless backend for a Linux host.
func NewProvider(_ Device, cfg ProviderConfig) (Provider, error) {
	if cfg.Interface == "" {
		cfg.Interface = "wlan0"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &linuxProvider{cfg: cfg, log: cfg.Logger}, nil
}

// iface looks up the configured wireless interface.
func (p *linuxProvider) iface(c *wifi.Client) (*wifi.Interface, error) {
	ifis, err := c.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, ifi := range ifis {
		if ifi.Name == p.cfg.Interface {
			return ifi, nil
		}
	}
	return nil, fmt.Errorf("no wireless interface %q", p.cfg.Interface)
}

// Join triggers association via nl80211. An empty password joins an
// open network.
func (p *linuxProvider) Join(ssid, passwd string) error {
	c, err := wifi.New()
	if err != nil {
		return err
	}
	defer c.Close()
	ifi, err := p.iface(c)
	if err != nil {
		return err
	}
	p.log.Info("joining network", slog.String("ssid", ssid), slog.String("iface", ifi.Name))
	if len(passwd) == 0 {
		return c.Connect(ifi, ssid)
	}
	return c.ConnectWPAPSK(ifi, ssid, passwd)
}

// Disconnect drops the association unconditionally.
func (p *linuxProvider) Disconnect() error {
	c, err := wifi.New()
	if err != nil {
		return err
	}
	defer c.Close()
	ifi, err := p.iface(c)
	if err != nil {
		return err
	}
	return c.Disconnect(ifi)
}

// Connected reports whether the interface is associated with a BSS.
func (p *linuxProvider) Connected() bool {
	c, err := wifi.New()
	if err != nil {
		return false
	}
	defer c.Close()
	ifi, err := p.iface(c)
	if err != nil {
		return false
	}
	bss, err := c.BSS(ifi)
	return err == nil && bss.Status == wifi.BSSStatusAssociated
}

// SSID of the associated BSS (empty if not associated).
func (p *linuxProvider) SSID() string {
	c, err := wifi.New()
	if err != nil {
		return ""
	}
	defer c.Close()
	ifi, err := p.iface(c)
	if err != nil {
		return ""
	}
	bss, err := c.BSS(ifi)
	if err != nil || bss.Status != wifi.BSSStatusAssociated {
		return ""
	}
	return bss.SSID
}

// LocalAddr returns the first IPv4 address of the interface.
func (p *linuxProvider) LocalAddr() (netip.Addr, error) {
	ifi, err := net.InterfaceByName(p.cfg.Interface)
	if err != nil {
		return netip.Addr{}, err
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return netip.Addr{}, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return netip.AddrFrom4([4]byte(ip4)), nil
		}
	}
	return netip.Addr{}, errNoIPv4
}

// RSSI returns the station signal strength in dBm.
func (p *linuxProvider) RSSI() (int, error) {
	c, err := wifi.New()
	if err != nil {
		return 0, err
	}
	defer c.Close()
	ifi, err := p.iface(c)
	if err != nil {
		return 0, err
	}
	infos, err := c.StationInfo(ifi)
	if err != nil {
		return 0, err
	}
	if len(infos) == 0 {
		return 0, errors.New("no station info")
	}
	return infos[0].Signal, nil
}

// Scan lists visible networks by running an iwlist scan.
func (p *linuxProvider) Scan() ([]Network, error) {
	cmd := exec.Command("iwlist", p.cfg.Interface, "scan")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return parseIWListScan(out.String()), nil
}

// scan report patterns of iwlist
var (
	ssidRegex   = regexp.MustCompile(`ESSID:"(.*?)"`)
	signalRegex = regexp.MustCompile(`Signal level=(-?\d+) dBm`)
	encRegex    = regexp.MustCompile(`Encryption key:(on|off)`)
)

// parseIWListScan extracts networks from iwlist output, one cell per
// network, in report order. Only "Encryption key:off" counts as open.
func parseIWListScan(output string) []Network {
	var networks []Network
	for _, cell := range bytes.Split([]byte(output), []byte("Cell ")) {
		ssid := ssidRegex.FindSubmatch(cell)
		enc := encRegex.FindSubmatch(cell)
		if len(ssid) < 2 || len(enc) < 2 {
			continue
		}
		rssi := 0
		if sig := signalRegex.FindSubmatch(cell); len(sig) > 1 {
			rssi, _ = strconv.Atoi(string(sig[1]))
		}
		networks = append(networks, Network{
			SSID: string(ssid[1]),
			RSSI: rssi,
			Open: string(enc[1]) == "off",
		})
	}
	return networks
}

// DialTCP opens the outbound session on the kernel TCP stack.
func (p *linuxProvider) DialTCP(host string, port uint16) (Conn, error) {
	d := net.Dialer{Timeout: 5 * time.Second}
	nc, err := d.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, err
	}
	return &linuxConn{nc: nc}, nil
}

// linuxConn adapts a kernel TCP socket to the polled Conn contract:
// inbound data is staged by reading with an immediate deadline.
type linuxConn struct {
	nc   net.Conn
	rx   []byte
	dead bool
}

func (c *linuxConn) Write(data []byte) (int, error) {
	n, err := c.nc.Write(data)
	if err != nil {
		c.dead = true
	}
	return n, err
}

func (c *linuxConn) Buffered() int {
	if c.dead || len(c.rx) > 0 {
		return len(c.rx)
	}
	_ = c.nc.SetReadDeadline(time.Now().Add(time.Millisecond))
	var buf [4096]byte
	n, err := c.nc.Read(buf[:])
	if n > 0 {
		c.rx = append(c.rx, buf[:n]...)
	}
	if err != nil {
		var nerr net.Error
		if !errors.As(err, &nerr) || !nerr.Timeout() {
			c.dead = true // peer closed or socket failed
		}
	}
	return len(c.rx)
}

func (c *linuxConn) Read(data []byte) (int, error) {
	if len(c.rx) == 0 {
		return 0, io.EOF
	}
	n := copy(data, c.rx)
	c.rx = c.rx[n:]
	return n, nil
}

// Connected reports the session usable until a read or write failed.
func (c *linuxConn) Connected() bool {
	return !c.dead
}

func (c *linuxConn) Close() error {
	c.dead = true
	return c.nc.Close()
}
