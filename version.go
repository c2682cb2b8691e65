// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package markers

// Version is the current release version of the markers module.
func Version() string {
	return "v0.3.0"
}
