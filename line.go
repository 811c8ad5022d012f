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

import "errors"

// longest accepted command line; longer input is noise or a missing
// terminator and gets discarded.
const maxLineLen = 512

var errLineOverflow = errors.New("line too long")

// LineBuffer accumulates bytes from the host until a line terminator
// (CR or LF) completes a command. Empty lines are suppressed, so CRLF
// and LF framing both yield one command per line. The buffer never
// holds a terminator byte.
type LineBuffer struct {
	buf  []byte
	skip bool // discarding an overlong line until its terminator
}

// Feed consumes one byte. When a terminator completes a non-empty line,
// the line is returned with ok set and the buffer is reset. Once the
// length cap is hit, the partial line is dropped, errLineOverflow is
// reported and all bytes up to the next terminator are ignored.
func (lb *LineBuffer) Feed(c byte) (line string, ok bool, err error) {
	if c == '\r' || c == '\n' {
		lb.skip = false
		if len(lb.buf) == 0 {
			return
		}
		line = string(lb.buf)
		lb.buf = lb.buf[:0]
		return line, true, nil
	}
	if lb.skip {
		return
	}
	if len(lb.buf) == maxLineLen {
		lb.buf = lb.buf[:0]
		lb.skip = true
		return "", false, errLineOverflow
	}
	lb.buf = append(lb.buf, c)
	return
}
