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
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialTransport is the serial device link to the host computer.
// Reads poll with a short timeout and stage arrived bytes, matching
// the bridge's non-blocking read contract.
type SerialTransport struct {
	port serial.Port
	rx   []byte
}

// OpenTransport opens the serial device at the conventional 115200 baud.
func OpenTransport(name string) (Transport, error) {
	mode := &serial.Mode{BaudRate: 115200}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	if err = port.SetReadTimeout(time.Millisecond); err != nil {
		port.Close()
		return nil, err
	}
	return &SerialTransport{port: port}, nil
}

// Buffered polls the port once for newly arrived bytes and returns the
// number staged for reading.
func (t *SerialTransport) Buffered() int {
	if len(t.rx) == 0 {
		var buf [256]byte
		n, err := t.port.Read(buf[:]) // returns n==0 after the timeout
		if err == nil && n > 0 {
			t.rx = append(t.rx, buf[:n]...)
		}
	}
	return len(t.rx)
}

// ReadByte returns the next staged byte.
func (t *SerialTransport) ReadByte() (byte, error) {
	if len(t.rx) == 0 && t.Buffered() == 0 {
		return 0, errNoData
	}
	c := t.rx[0]
	t.rx = t.rx[1:]
	return c, nil
}

// Write sends response bytes to the host.
func (t *SerialTransport) Write(data []byte) (int, error) {
	return t.port.Write(data)
}

// Close releases the serial device.
func (t *SerialTransport) Close() error {
	return t.port.Close()
}
