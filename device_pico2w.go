//go:build rp2350

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
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/eth/dns"
	"github.com/soypat/seqs/stacks"
)

// Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	ref *cyw43439.Device // reference to device
}

// LED on or off (if applicable)
func (dev *Pico2WDevice) LED(on bool) {
	dev.ref.GPIOSet(0, on)
}

// Initialize device
func InitDevice() Device {
	// access device
	dev := new(Pico2WDevice)
	dev.ref = cyw43439.NewPicoWDevice()
	return dev
}

const mtu = cyw43439.MTU

// Error messages
var (
	errNoPico      = errors.New("not a pico W device")
	errNoScan      = errors.New("driver does not support scanning")
	errNoAssoc     = errors.New("not associated")
	errNoAddr      = errors.New("no address assigned")
	errDHCP        = errors.New("no DHCP reply and no static address")
	errDialTimeout = errors.New("tcp connect timed out")
)

// picoProvider drives the CYW43439 radio and a userspace TCP/IP stack.
// Association state lives here (the bridge re-queries it); the stack is
// rebuilt on every join.
type picoProvider struct {
	dev   *cyw43439.Device
	cfg   ProviderConfig
	log   *slog.Logger
	stack *stacks.PortStack
	dhcpc *stacks.DHCPClient
	ssid  string
	addr  netip.Addr
	port  uint16 // next ephemeral port for outbound sockets
	pump  bool   // NIC frame pump started
}

// NewProvider returns the wireless backend for the Pico 2 W.
func NewProvider(dev Device, cfg ProviderConfig) (Provider, error) {
	d, ok := dev.(*Pico2WDevice)
	if !ok {
		return nil, errNoPico
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127), // logger that does no logging
		}))
	}
	return &picoProvider{
		dev:  d.ref,
		cfg:  cfg,
		log:  cfg.Logger,
		port: 7030,
	}, nil
}

// Join associates with the network and brings up the IP stack: radio
// init, WPA2 join, frame pump, DHCP (falling back to the configured
// static address). The driver call blocks; the bridge's poll loop sees
// the result through Connected.
func (p *picoProvider) Join(ssid, passwd string) error {
	p.reset()

	wificfg := cyw43439.DefaultWifiConfig()
	wificfg.Logger = p.log
	p.log.Info("initializing pico W device...")
	devInitTime := time.Now()
	if err := p.dev.Init(wificfg); err != nil {
		return err
	}
	p.log.Info("cyw43439:Init", slog.Duration("duration", time.Since(devInitTime)))

	if len(passwd) == 0 {
		p.log.Info("joining open network", slog.String("ssid", ssid))
	} else {
		p.log.Info("joining WPA secure network", slog.String("ssid", ssid), slog.Int("passlen", len(passwd)))
	}
	if err := p.dev.JoinWPA2(ssid, passwd); err != nil {
		p.log.Error("wifi join failed", slog.String("err", err.Error()))
		return err
	}
	mac, _ := p.dev.HardwareAddr6()
	p.log.Info("wifi join success!", slog.String("mac", net.HardwareAddr(mac[:]).String()))

	stack := stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsUDP: 2, // DHCP + DNS
		MaxOpenPortsTCP: 1,
		MTU:             mtu,
		Logger:          p.log,
	})
	p.dev.RecvEthHandle(stack.RecvEth)
	p.stack = stack
	if !p.pump {
		p.pump = true
		go p.nicLoop()
	}

	addr, err := p.lease(stack)
	if err != nil {
		p.reset()
		return err
	}
	stack.SetAddr(addr) // set the IP address after DHCP completes
	p.addr = addr
	p.ssid = ssid
	return nil
}

// lease performs the DHCP request with a bounded bound-state wait and
// falls back to the configured static address.
func (p *picoProvider) lease(stack *stacks.PortStack) (netip.Addr, error) {
	var reqAddr netip.Addr
	if p.cfg.RequestedIP != "" {
		var err error
		if reqAddr, err = netip.ParseAddr(p.cfg.RequestedIP); err != nil {
			return netip.Addr{}, err
		}
	}
	dhcpc := stacks.NewDHCPClient(stack, dhcp.DefaultClientPort)
	err := dhcpc.BeginRequest(stacks.DHCPRequestConfig{
		RequestedAddr: reqAddr,
		Xid:           uint32(time.Now().Nanosecond()),
		Hostname:      p.cfg.Hostname,
	})
	if err != nil {
		return netip.Addr{}, err
	}
	i := 0
	for dhcpc.State() != dhcp.StateBound {
		i++
		p.log.Info("DHCP ongoing...")
		time.Sleep(time.Second / 2)
		if i > 15 {
			if !reqAddr.IsValid() {
				return netip.Addr{}, errDHCP
			}
			p.log.Info("DHCP did not complete, assigning static IP", slog.String("ip", p.cfg.RequestedIP))
			p.dhcpc = dhcpc
			return reqAddr, nil
		}
	}
	ip := dhcpc.Offer()
	p.log.Info("DHCP complete",
		slog.String("ourIP", ip.String()),
		slog.String("gateway", dhcpc.Gateway().String()),
		slog.String("router", dhcpc.Router().String()),
		slog.Duration("lease", dhcpc.IPLeaseTime()),
	)
	p.dhcpc = dhcpc
	return ip, nil
}

// Disconnect drops the association. The driver has no explicit leave
// operation, so the radio is reset into its initialized state on the
// next join; here only the provider state is torn down.
func (p *picoProvider) Disconnect() error {
	p.reset()
	return nil
}

func (p *picoProvider) reset() {
	p.stack = nil
	p.dhcpc = nil
	p.ssid = ""
	p.addr = netip.Addr{}
}

// Connected reports whether an association with a usable address holds.
func (p *picoProvider) Connected() bool {
	return p.stack != nil && p.addr.IsValid()
}

// SSID of the current association.
func (p *picoProvider) SSID() string {
	return p.ssid
}

// LocalAddr returns the address assigned by DHCP (or the static one).
func (p *picoProvider) LocalAddr() (netip.Addr, error) {
	if !p.addr.IsValid() {
		return netip.Addr{}, errNoAddr
	}
	return p.addr, nil
}

// RSSI returns the current signal strength.
// TODO: report the real value once the cyw43439 driver exposes it.
func (p *picoProvider) RSSI() (int, error) {
	return 0, nil
}

// Scan is not available: the driver only joins configured networks.
func (p *picoProvider) Scan() ([]Network, error) {
	return nil, errNoScan
}

// DialTCP opens the outbound TCP session. A hostname is resolved via
// DNS first; the hardware address is taken from the peer itself if it
// is on-link, from the router otherwise.
func (p *picoProvider) DialTCP(host string, port uint16) (Conn, error) {
	if !p.Connected() {
		return nil, errNoAssoc
	}
	dst, err := netip.ParseAddr(host)
	if err != nil {
		rsv, err := newResolver(p.stack, p.dhcpc)
		if err != nil {
			return nil, err
		}
		addrs, err := rsv.LookupNetIP(host)
		if err != nil {
			return nil, err
		}
		dst = addrs[0]
	}
	hw, err := resolveHardwareAddr(p.stack, dst)
	if err != nil {
		if hw, err = resolveHardwareAddr(p.stack, p.dhcpc.Router()); err != nil {
			return nil, err
		}
	}
	sock, err := stacks.NewTCPConn(p.stack, stacks.TCPConnConfig{
		TxBufSize: 512,
		RxBufSize: 512,
	})
	if err != nil {
		return nil, err
	}
	p.port++
	remote := netip.AddrPortFrom(dst, port)
	if err = sock.OpenDialTCP(p.port, hw, remote, seqs.Value(time.Now().UnixNano())); err != nil {
		return nil, err
	}
	retries := 50
	for sock.State() != seqs.StateEstablished && retries > 0 {
		retries--
		time.Sleep(100 * time.Millisecond)
	}
	if retries == 0 {
		sock.Close()
		return nil, errDialTimeout
	}
	return &picoConn{sock: sock}, nil
}

// picoConn adapts a seqs TCP socket to the polled Conn contract.
type picoConn struct {
	sock *stacks.TCPConn
}

func (c *picoConn) Write(data []byte) (int, error) {
	return c.sock.Write(data)
}

func (c *picoConn) Buffered() int {
	return c.sock.BufferedInput()
}

func (c *picoConn) Read(data []byte) (int, error) {
	return c.sock.Read(data)
}

func (c *picoConn) Connected() bool {
	return c.sock.State() == seqs.StateEstablished
}

func (c *picoConn) Close() error {
	return c.sock.Close()
}

// resolveHardwareAddr obtains the hardware address of the given IP address.
func resolveHardwareAddr(stack *stacks.PortStack, ip netip.Addr) ([6]byte, error) {
	if !ip.IsValid() {
		return [6]byte{}, errors.New("invalid ip")
	}
	arpc := stack.ARP()
	arpc.Abort() // Remove any previous ARP requests.
	err := arpc.BeginResolve(ip)
	if err != nil {
		return [6]byte{}, err
	}
	time.Sleep(4 * time.Millisecond)
	// ARP exchanges should be fast, don't wait too long for them.
	const timeout = time.Second
	const maxretries = 20
	retries := maxretries
	for !arpc.IsDone() && retries > 0 {
		retries--
		if retries == 0 {
			return [6]byte{}, errors.New("arp timed out")
		}
		time.Sleep(timeout / maxretries)
	}
	_, hw, err := arpc.ResultAs6()
	return hw, err
}

// resolver for DNS lookups of peer hostnames.
type resolver struct {
	stack     *stacks.PortStack
	dns       *stacks.DNSClient
	dhcp      *stacks.DHCPClient
	dnsaddr   netip.Addr
	dnshwaddr [6]byte
}

func newResolver(stack *stacks.PortStack, dhcp *stacks.DHCPClient) (*resolver, error) {
	dnsc := stacks.NewDNSClient(stack, dns.ClientPort)
	dnsaddrs := dhcp.DNSServers()
	if len(dnsaddrs) == 0 || !dnsaddrs[0].IsValid() {
		return nil, errors.New("dns addr obtained via DHCP not valid")
	}
	return &resolver{
		stack:   stack,
		dhcp:    dhcp,
		dns:     dnsc,
		dnsaddr: dnsaddrs[0],
	}, nil
}

func (r *resolver) LookupNetIP(host string) ([]netip.Addr, error) {
	name, err := dns.NewName(host)
	if err != nil {
		return nil, err
	}
	err = r.updateDNSHWAddr()
	if err != nil {
		return nil, err
	}

	err = r.dns.StartResolve(r.dnsConfig(name))
	if err != nil {
		return nil, err
	}
	time.Sleep(5 * time.Millisecond)
	retries := 100

	for retries > 0 {
		done, _ := r.dns.IsDone()
		if done {
			break
		}
		retries--
		time.Sleep(20 * time.Millisecond)
	}
	done, rcode := r.dns.IsDone()
	if !done && retries == 0 {
		return nil, errors.New("dns lookup timed out")
	} else if rcode != dns.RCodeSuccess {
		return nil, errors.New("dns lookup failed:" + rcode.String())
	}
	answers := r.dns.Answers()
	if len(answers) == 0 {
		return nil, errors.New("no dns answers")
	}
	var addrs []netip.Addr
	for i := range answers {
		data := answers[i].RawData()
		if len(data) == 4 {
			addrs = append(addrs, netip.AddrFrom4([4]byte(data)))
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("no ipv4 dns answers")
	}
	return addrs, nil
}

func (r *resolver) updateDNSHWAddr() (err error) {
	r.dnshwaddr, err = resolveHardwareAddr(r.stack, r.dnsaddr)
	return err
}

func (r *resolver) dnsConfig(name dns.Name) stacks.DNSResolveConfig {
	return stacks.DNSResolveConfig{
		Questions: []dns.Question{
			{
				Name:  name,
				Type:  dns.TypeA,
				Class: dns.ClassINET,
			},
		},
		DNSAddr:         r.dnsaddr,
		DNSHWAddr:       r.dnshwaddr,
		EnableRecursion: true,
	}
}

// nicLoop pumps ethernet frames between the radio and the current
// stack. It is started once; a torn-down stack stalls the pump until
// the next join installs a new one.
func (p *picoProvider) nicLoop() {
	// Maximum number of packets to queue before sending them.
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
	)
	var queue [queueSize][mtu]byte
	var lenBuf [queueSize]int
	var retries [queueSize]int
	markSent := func(i int) {
		lenBuf[i] = 0
		retries[i] = 0
	}
	for {
		stack := p.stack
		if stack == nil {
			time.Sleep(51 * time.Millisecond)
			continue
		}
		stallRx := true
		// Poll for incoming packets.
		gotPacket, err := p.dev.PollOne()
		if err != nil {
			p.log.Error("poll", slog.String("err", err.Error()))
		}
		if gotPacket {
			stallRx = false
		}

		// Queue packets to be sent.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			buf := queue[i][:]
			lenBuf[i], err = stack.HandleEth(buf[:])
			if err != nil {
				p.log.Error("stack", slog.String("err", err.Error()))
				lenBuf[i] = 0
				continue
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		stallTx := lenBuf == [queueSize]int{}
		if stallTx {
			if stallRx {
				// Avoid busy waiting when both Rx and Tx stall.
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			if err := p.dev.SendEth(queue[i][:n]); err != nil {
				// Queue packet for retransmission.
				retries[i]++
				if retries[i] > maxRetriesBeforeDropping {
					markSent(i)
					p.log.Error("dropped outgoing packet", slog.String("err", err.Error()))
				}
			} else {
				markSent(i)
			}
		}
	}
}
