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
	"testing"

	"github.com/stretchr/testify/assert"
)

// quiet device for status tests
type nullDevice struct{}

func (dev *nullDevice) LED(on bool) {}

func TestStatusSetGet(t *testing.T) {
	state := NewStatus(new(nullDevice))
	state.Set(StatRADIO, 2)
	s, n := state.Get()
	assert.Equal(t, StatRADIO, s)
	assert.Equal(t, 2, n)
}
