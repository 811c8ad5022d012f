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
	"log/slog"
	"net/netip"
)

// Network is one scan result.
type Network struct {
	SSID string // network name
	RSSI int    // signal strength [dBm]
	Open bool   // set only for networks without authentication
}

// Conn is the single outbound TCP session offered by a Provider.
// The bridge owns at most one Conn at a time; opening a new session
// releases the previous one.
type Conn interface {
	// Write sends payload data to the peer.
	Write(p []byte) (int, error)
	// Buffered returns the number of inbound bytes ready to read.
	Buffered() int
	// Read drains buffered inbound data.
	Read(p []byte) (int, error)
	// Connected reports whether the session is still established.
	Connected() bool
	// Close terminates the session.
	Close() error
}

// Provider is the wireless backend the bridge drives. The bridge never
// caches association state; every command that needs it re-queries the
// provider.
type Provider interface {
	// Join starts association with the given network. An empty
	// password joins an open network.
	Join(ssid, passwd string) error
	// Disconnect drops the association unconditionally.
	Disconnect() error
	// Connected reports whether an association is established and a
	// local address is usable.
	Connected() bool
	// SSID of the current association (empty if not associated).
	SSID() string
	// LocalAddr returns the device address on the network.
	LocalAddr() (netip.Addr, error)
	// RSSI returns the current signal strength in dBm.
	RSSI() (int, error)
	// Scan lists visible networks in driver order.
	Scan() ([]Network, error)
	// DialTCP opens the outbound TCP session.
	DialTCP(host string, port uint16) (Conn, error)
}

// ProviderConfig collects provider settings; fields that do not apply
// to a platform are ignored there.
type ProviderConfig struct {
	// DHCP requested hostname.
	Hostname string
	// DHCP requested IP address. On failing to find a DHCP server it
	// is used as static IP.
	RequestedIP string
	// Wireless interface name (host builds), e.g. "wlan0".
	Interface string
	// Logger for radio and stack diagnostics. Diagnostics must never
	// go to the host transport: it carries the command protocol.
	Logger *slog.Logger
}
