/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides version information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of MediaBridge.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/mediabridge/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Product is the product token used in protocol headers.
const Product = "MediaBridge"

// ServerHeader returns the SERVER header value announced over SSDP and HTTP,
// in the "OS/version UPnP/1.0 product/version" form.
func ServerHeader() string {
	return fmt.Sprintf("%s/1.0 UPnP/1.0 %s/%s", runtime.GOOS, Product, Version)
}

// UserAgent returns the User-Agent sent to remote devices.
func UserAgent() string {
	return fmt.Sprintf("%s/%s UPnP/1.0", Product, Version)
}
