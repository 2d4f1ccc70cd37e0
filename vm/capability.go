// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

// capSet is the VM's runtime capability bitmap (§3/§5): 256 bits, one per
// device id, set by GTWAY and checked by IOW/IOR. Same width and layout as
// validate/capability.go's static capSet — the static pass proves no path
// reaches an IOW/IOR without a dominating GTWAY, and this is the runtime
// bitmap that GTWAY actually mutates.
type capSet [4]uint64

func (c *capSet) set(id int) { c[id/64] |= 1 << uint(id%64) }

func (c capSet) has(id int) bool { return c[id/64]&(1<<uint(id%64)) != 0 }
