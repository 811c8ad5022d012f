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

import "machine"

// SerialTransport is the USB CDC link to the host.
type SerialTransport struct{}

// OpenTransport returns the host link (the name is ignored on device,
// the USB serial is fixed).
func OpenTransport(_ string) (Transport, error) {
	return &SerialTransport{}, nil
}

// Buffered returns the number of received bytes ready to read.
func (t *SerialTransport) Buffered() int {
	return machine.Serial.Buffered()
}

// ReadByte returns the next received byte.
func (t *SerialTransport) ReadByte() (byte, error) {
	return machine.Serial.ReadByte()
}

// Write sends response bytes to the host.
func (t *SerialTransport) Write(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
