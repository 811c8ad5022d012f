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
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed pushes a string byte-wise and collects completed lines.
func feed(t *testing.T, lb *LineBuffer, input string) []string {
	t.Helper()
	lines := []string{}
	for i := 0; i < len(input); i++ {
		line, ok, err := lb.Feed(input[i])
		require.NoError(t, err)
		if ok {
			lines = append(lines, line)
		}
	}
	return lines
}

// reference framing: split on CR/LF, drop empty segments.
func splitRef(input string) []string {
	return strings.FieldsFunc(input, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
}

func TestLineFraming(t *testing.T) {
	t.Parallel()

	for _, input := range []string{
		"STATUS\n",
		"STATUS\r\n",
		"one\ntwo\nthree\n",
		"one\r\ntwo\r\n",
		"\r\n\r\n\n\r",
		"mixed\rterminators\nhere\r\n",
	} {
		lb := new(LineBuffer)
		assert.Equal(t, splitRef(input), feed(t, lb, input), "input %q", input)
	}
}

// For arbitrary byte sequences the accumulator yields exactly the
// non-empty lines a CR/LF split would produce: same order, no loss,
// no duplication.
func TestLineFramingRandom(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 30))
	alphabet := "AB:.x \r\n\r\n" // terminators weighted in
	for range 100 {
		var sb strings.Builder
		for range rng.IntN(200) {
			sb.WriteByte(alphabet[rng.IntN(len(alphabet))])
		}
		sb.WriteByte('\n') // flush the trailing partial line
		input := sb.String()

		lb := new(LineBuffer)
		assert.Equal(t, splitRef(input), feed(t, lb, input), "input %q", input)
	}
}

func TestLinePartialKept(t *testing.T) {
	t.Parallel()

	lb := new(LineBuffer)
	lines := feed(t, lb, "STA")
	assert.Empty(t, lines)
	lines = feed(t, lb, "TUS\n")
	assert.Equal(t, []string{"STATUS"}, lines)
}

func TestLineOverflow(t *testing.T) {
	t.Parallel()

	lb := new(LineBuffer)
	overlong := strings.Repeat("x", maxLineLen+100)

	var fails int
	for i := 0; i < len(overlong); i++ {
		line, ok, err := lb.Feed(overlong[i])
		assert.False(t, ok)
		assert.Empty(t, line)
		if err != nil {
			assert.ErrorIs(t, err, errLineOverflow)
			fails++
		}
	}
	// one overflow per overlong line, not one per excess byte
	assert.Equal(t, 1, fails)

	// the terminator of the dropped line yields nothing...
	line, ok, err := lb.Feed('\n')
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, line)

	// ...and the accumulator is usable again
	assert.Equal(t, []string{"STATUS"}, feed(t, lb, "STATUS\r\n"))
}
