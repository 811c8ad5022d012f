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

package main

import (
	"time"

	"github.com/bfix/wifibridge"
)

// Deployment settings (inject with -ldflags "-X main.<var>=<value>").
// WiFi credentials are not baked in; the host sends them over the
// CONNECT command.
var (
	Hostname string // DHCP hostname
	IP       string // requested/static IP address
	Iface    string // wireless interface (host builds)
	PortName string // serial device to the host (host builds)
)

// run the bridge control loop
func main() {
	// access device
	dev := wifibridge.InitDevice()
	state := wifibridge.NewStatus(dev)
	defer state.Trap(30 * time.Second)
	state.Set(wifibridge.StatOK, 0)

	// link to the host computer
	tr, err := wifibridge.OpenTransport(PortName)
	if err != nil {
		state.Set(wifibridge.StatSERIAL, 0)
		return
	}

	// wireless network backend
	prov, err := wifibridge.NewProvider(dev, wifibridge.ProviderConfig{
		Hostname:    Hostname,
		RequestedIP: IP,
		Interface:   Iface,
	})
	if err != nil {
		state.Set(wifibridge.StatRADIO, 0)
		return
	}

	// translate host commands into network operations until reset
	wifibridge.NewBridge(tr, prov, wifibridge.Config{}).Run()

	// talk to it from the host side:
	//   CONNECT:MySSID:secret
	//   TCPCONNECT:10.0.0.5:8080
	//   TCPSEND:hello
	//   TCPCLOSE
}
