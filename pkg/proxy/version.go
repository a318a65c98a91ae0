// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package proxy

// Version is the toolgate release version, reported in the initialize
// handshake and stamped onto processed tool results.
var Version = "0.1.0"
