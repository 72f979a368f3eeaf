// Package pairing encodes a device's identity and relay into a pairing URI
// and renders it as a QR code for the peer to scan.
package pairing

import (
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/matheus3301/remotememo/internal/errors"
)

// Scheme prefixes every pairing URI.
const Scheme = "remotememo"

// Invite is the content of a pairing URI.
type Invite struct {
	DeviceID string
	RelayURL string
}

// URI returns remotememo://pair?device=<id>&relay=<url>.
func (i Invite) URI() string {
	q := url.Values{}
	q.Set("device", i.DeviceID)
	if i.RelayURL != "" {
		q.Set("relay", i.RelayURL)
	}
	return Scheme + "://pair?" + q.Encode()
}

// Parse decodes a pairing URI.
func Parse(raw string) (Invite, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Invite{}, errors.Wrap(err, "parse pairing uri")
	}
	if u.Scheme != Scheme || u.Host != "pair" {
		return Invite{}, errors.Newf("not a pairing uri: %q", raw)
	}
	inv := Invite{
		DeviceID: u.Query().Get("device"),
		RelayURL: u.Query().Get("relay"),
	}
	if inv.DeviceID == "" {
		return Invite{}, errors.New("pairing uri has no device")
	}
	return inv, nil
}

// RenderQR converts content to a compact terminal QR code using Unicode
// half-block characters. Two bitmap rows become one terminal line.
func RenderQR(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", errors.Wrap(err, "generate qr")
	}

	bitmap := qr.Bitmap()
	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		sb.WriteString("  ")
		for x := range bitmap[y] {
			top := bitmap[y][x] // true = black module
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String(), nil
}

// PNG encodes content as a size x size PNG.
func PNG(content string, size int) ([]byte, error) {
	png, err := qrcode.Encode(content, qrcode.Low, size)
	if err != nil {
		return nil, errors.Wrap(err, "encode qr png")
	}
	return png, nil
}
