// Package busopen turns one internal/config.ChannelEntry into a live
// pkg/bus.Bus, factored out of cmd/streamdrv and cmd/streamdrv-admind so
// neither binary duplicates the serial/tcp/usb dispatch.
package busopen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"

	"streamdrive/internal/config"
	"streamdrive/pkg/bus"
	"streamdrive/pkg/bus/serialbus"
	"streamdrive/pkg/bus/tcpbus"
	"streamdrive/pkg/bus/usbbus"
)

// Open dispatches on e.Kind to the matching adapter's constructor.
func Open(e config.ChannelEntry) (bus.Bus, error) {
	switch e.Kind {
	case config.KindSerial:
		return serialbus.Open(serialbus.Config{
			Device:   e.Device,
			Baud:     serialBauds[e.Baud],
			DataBits: e.DataBits,
			StopBits: e.StopBits,
			Parity:   parityByte(e.Parity),
		})
	case config.KindTCP:
		return tcpbus.Dial(tcpbus.Config{Address: e.Address})
	case config.KindUSB:
		vid, err := parseHexID(e.VendorID)
		if err != nil {
			return nil, fmt.Errorf("vendorId: %w", err)
		}
		pid, err := parseHexID(e.ProductID)
		if err != nil {
			return nil, fmt.Errorf("productId: %w", err)
		}
		return usbbus.Open(usbbus.Config{
			VendorID:     vid,
			ProductID:    pid,
			InterfaceNum: e.InterfaceNum,
			EndpointOut:  e.EndpointOut,
			EndpointIn:   e.EndpointIn,
		})
	default:
		return nil, fmt.Errorf("unknown channel kind %q", e.Kind)
	}
}

// serialBauds maps the registry's numeric line speed to serialbus's
// termios constant; a speed not listed here maps to 0, which serialbus
// treats as its 9600 default.
var serialBauds = map[int]serialbus.Baud{
	9600: serialbus.B9600, 19200: serialbus.B19200, 38400: serialbus.B38400,
	57600: serialbus.B57600, 115200: serialbus.B115200, 230400: serialbus.B230400,
}

func parityByte(p string) byte {
	if len(p) == 0 {
		return 'N'
	}
	return p[0]
}

func parseHexID(s string) (gousb.ID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return gousb.ID(v), nil
}
