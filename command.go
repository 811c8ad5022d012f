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
	"strconv"
	"strings"
)

// Command is one parsed host command. Parsing is total: every input
// line maps to exactly one variant (CmdUnknown for everything the
// grammar does not cover).
type Command interface {
	isCommand()
}

type (
	// CmdConnect joins the wireless network <SSID> with <Passwd>.
	CmdConnect struct {
		SSID   string
		Passwd string
	}

	// CmdStatus reports the association state.
	CmdStatus struct{}

	// CmdScan lists visible wireless networks.
	CmdScan struct{}

	// CmdDisconnect drops the association.
	CmdDisconnect struct{}

	// CmdTCPConnect opens the outbound TCP session.
	CmdTCPConnect struct {
		Host string
		Port uint16
	}

	// CmdTCPSend transmits payload on the open TCP session.
	CmdTCPSend struct {
		Payload string
	}

	// CmdTCPClose closes the TCP session.
	CmdTCPClose struct{}

	// CmdGetIP reports the local network address.
	CmdGetIP struct{}

	// CmdUnknown covers unrecognized verbs and malformed arguments.
	// Reason is empty for an unrecognized verb; for a recognized verb
	// with a bad argument split it holds the error text to report.
	CmdUnknown struct {
		Raw    string
		Reason string
	}
)

func (CmdConnect) isCommand()    {}
func (CmdStatus) isCommand()     {}
func (CmdScan) isCommand()       {}
func (CmdDisconnect) isCommand() {}
func (CmdTCPConnect) isCommand() {}
func (CmdTCPSend) isCommand()    {}
func (CmdTCPClose) isCommand()   {}
func (CmdGetIP) isCommand()      {}
func (CmdUnknown) isCommand()    {}

// ParseCommand maps one command line to its Command variant. The line
// is trimmed of surrounding whitespace first; verbs are matched
// case-sensitive. Colon handling differs per verb: a password may
// contain colons (split on the first one), a TCPSEND payload is taken
// verbatim, and the TCP port is the field after the last colon.
func ParseCommand(line string) Command {
	cmd := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(cmd, "CONNECT:"):
		args := cmd[len("CONNECT:"):]
		idx := strings.Index(args, ":")
		if idx < 0 {
			return CmdUnknown{Raw: cmd, Reason: "Invalid CONNECT format. Use CONNECT:SSID:PASSWORD"}
		}
		return CmdConnect{SSID: args[:idx], Passwd: args[idx+1:]}

	case cmd == "STATUS":
		return CmdStatus{}

	case cmd == "SCAN":
		return CmdScan{}

	case cmd == "DISCONNECT":
		return CmdDisconnect{}

	case strings.HasPrefix(cmd, "TCPCONNECT:"):
		args := cmd[len("TCPCONNECT:"):]
		idx := strings.LastIndex(args, ":")
		if idx < 1 {
			return CmdUnknown{Raw: cmd, Reason: "Invalid TCPCONNECT format"}
		}
		return CmdTCPConnect{Host: args[:idx], Port: parsePort(args[idx+1:])}

	case strings.HasPrefix(cmd, "TCPSEND:"):
		return CmdTCPSend{Payload: cmd[len("TCPSEND:"):]}

	case cmd == "TCPCLOSE":
		return CmdTCPClose{}

	case cmd == "IP":
		return CmdGetIP{}
	}
	return CmdUnknown{Raw: cmd}
}

// parsePort reads the trailing port field of TCPCONNECT. A value that
// is not a 16-bit unsigned number maps to port 0 instead of rejecting
// the command; hosts rely on this leniency, so it is kept.
func parsePort(s string) uint16 {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port)
}
