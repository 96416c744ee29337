// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the memchat packages.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing with fsync (config files)
//   - TruncateRunes, TruncateWidth: UTF-8 and display-width safe truncation
//   - SingleLine: whitespace folding for transcript previews
//
// # Usage
//
//	preview := util.TruncateWidth(util.SingleLine(msg.Text), 60)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
