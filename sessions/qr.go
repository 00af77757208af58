// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sessions

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// qrImageSize is the rendered QR edge length in pixels. Large enough
// to scan from a phone camera pointed at another phone's screen.
const qrImageSize = 512

// renderQR renders a linking challenge payload as a PNG.
func renderQR(payload string) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("encoding QR challenge: %w", err)
	}
	return png, nil
}
