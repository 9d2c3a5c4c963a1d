// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads assuan-bridge configuration.
//
// Configuration comes from at most one file, named by the --config flag
// or the ASSUAN_BRIDGE_CONFIG environment variable. With neither set,
// [Default] applies. The file format follows the extension: .yaml/.yml
// for YAML, .json/.jsonc for JSON with comments and trailing commas.
// Command-line flags override file values after loading.
//
// Path fields expand ${VAR} and ${VAR:-default}, so the stock local
// directory is written ${HOME}/.gnupg.
//
// Duration and file-mode fields are strings ("5s", "0600") so the YAML
// and JSON forms are identical; [Config.Validate] parses all of them.
package config
