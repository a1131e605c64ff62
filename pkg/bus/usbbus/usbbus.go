//go:build !mips && !mipsle

// Package usbbus implements pkg/bus.Bus over a bulk-endpoint USB device,
// grounded on the teacher's USBDevice (internal/driver/device/
// usb_device.go): open by vendor/product ID, claim interface 0, write to
// a bulk OUT endpoint, read from a bulk IN endpoint with a context
// timeout. Excluded on mips/mipsle exactly as the teacher excludes it,
// since cgo-free gousb still needs libusb.
package usbbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"streamdrive/pkg/bus"
)

// Config identifies and configures the target device.
type Config struct {
	VendorID, ProductID gousb.ID
	ConfigNum           int
	InterfaceNum        int
	AltSetting          int
	EndpointOut         int
	EndpointIn          int
	BufferSize          int
}

// Bus is a pkg/bus.Bus backed by one bulk-endpoint USB device.
type Bus struct {
	mu    sync.Mutex
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	out   *gousb.OutEndpoint
	in    *gousb.InEndpoint
	bufSz int
}

// Open opens and claims the device named by cfg, the same VID/PID +
// Config(1) + Interface(0,0) + endpoint-lookup sequence as
// OpenUSBDevice, generalized to caller-supplied IDs and endpoint
// numbers instead of the teacher's Bitmain-specific constants.
func Open(cfg Config) (*Bus, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(cfg.VendorID, cfg.ProductID)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbbus: open device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbbus: device not found (VID:%s PID:%s)", cfg.VendorID, cfg.ProductID)
	}

	configNum := cfg.ConfigNum
	if configNum == 0 {
		configNum = 1
	}
	gcfg, err := dev.Config(configNum)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbbus: set config: %w", err)
	}

	intf, err := gcfg.Interface(cfg.InterfaceNum, cfg.AltSetting)
	if err != nil {
		gcfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbbus: claim interface: %w", err)
	}

	epOut, err := intf.OutEndpoint(cfg.EndpointOut)
	if err != nil {
		intf.Close()
		gcfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbbus: open OUT endpoint: %w", err)
	}
	epIn, err := intf.InEndpoint(cfg.EndpointIn)
	if err != nil {
		intf.Close()
		gcfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbbus: open IN endpoint: %w", err)
	}

	bufSz := cfg.BufferSize
	if bufSz == 0 {
		bufSz = 512
	}

	return &Bus{ctx: ctx, dev: dev, cfg: gcfg, intf: intf, out: epOut, in: epIn, bufSz: bufSz}, nil
}

func (b *Bus) Lock(ctx context.Context, timeoutMS int) bus.Status { return bus.StatusSuccess }
func (b *Bus) Unlock()                                            {}

func (b *Bus) Write(ctx context.Context, data []byte, timeoutMS int) bus.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	wctx := ctx
	var cancel context.CancelFunc
	if timeoutMS > 0 {
		wctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
		defer cancel()
	}
	_, err := b.out.WriteContext(wctx, data)
	if err != nil {
		if wctx.Err() == context.DeadlineExceeded {
			return bus.StatusTimeout
		}
		return bus.StatusFault
	}
	return bus.StatusSuccess
}

func (b *Bus) Read(ctx context.Context, replyTimeoutMS, readTimeoutMS, expected int, async bool) <-chan bus.ReadResult {
	out := make(chan bus.ReadResult, 4)
	go b.readLoop(ctx, replyTimeoutMS, readTimeoutMS, expected, out)
	return out
}

func (b *Bus) readLoop(ctx context.Context, replyTimeoutMS, readTimeoutMS, expected int, out chan<- bus.ReadResult) {
	defer close(out)
	buf := make([]byte, b.bufSz)
	received := 0
	timeoutMS := replyTimeoutMS

	for {
		rctx := ctx
		var cancel context.CancelFunc
		if timeoutMS > 0 {
			rctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
		}
		b.mu.Lock()
		n, err := b.in.ReadContext(rctx, buf)
		b.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if rctx.Err() == context.DeadlineExceeded {
				out <- bus.ReadResult{Status: bus.StatusTimeout, Final: true}
				return
			}
			out <- bus.ReadResult{Status: bus.StatusFault, Final: true}
			return
		}
		received += n
		final := expected > 0 && received >= expected
		select {
		case <-ctx.Done():
			return
		case out <- bus.ReadResult{Status: bus.StatusSuccess, Data: append([]byte(nil), buf[:n]...), Final: final}:
		}
		if final {
			return
		}
		timeoutMS = readTimeoutMS
	}
}

func (b *Bus) AcceptEvent(ctx context.Context, mask uint32, timeoutMS int) bus.Status {
	return bus.StatusTimeout
}

func (b *Bus) SetEOS(terminator []byte) {}

func (b *Bus) Connect(ctx context.Context) error { return nil }

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.intf != nil {
		b.intf.Close()
	}
	if b.cfg != nil {
		b.cfg.Close()
	}
	if b.dev != nil {
		b.dev.Close()
	}
	if b.ctx != nil {
		b.ctx.Close()
	}
	return nil
}

// CRC16 computes the Modbus CRC-16 (the Bitmain-protocol checksum)
// with the table-driven method, as a checksum a device-specific "%C"
// framing pseudo-format can delegate to. It yields the same value as
// sformat's own %C checksum.
func CRC16(data []byte) uint16 {
	hi := uint8(0xFF)
	lo := uint8(0xFF)
	for _, c := range data {
		idx := lo ^ c
		lo = hi ^ crcHighTable[idx]
		hi = crcLowTable[idx]
	}
	return uint16(hi)<<8 | uint16(lo)
}

var crcHighTable = [256]uint8{
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x00, 0xC1, 0x81, 0x40,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x00, 0xC1, 0x81, 0x40,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x00, 0xC1, 0x81, 0x40,
	0x01, 0xC0, 0x80, 0x41, 0x01, 0xC0, 0x80, 0x41, 0x00, 0xC1, 0x81, 0x40,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x00, 0xC1, 0x81, 0x40,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41,
	0x01, 0xC0, 0x80, 0x41, 0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x00, 0xC1, 0x81, 0x40,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40, 0x01, 0xC0, 0x80, 0x41, 0x01, 0xC0, 0x80, 0x41,
	0x00, 0xC1, 0x81, 0x40,
}

var crcLowTable = [256]uint8{
	0x00, 0xC0, 0xC1, 0x01, 0xC3, 0x03, 0x02, 0xC2, 0xC6, 0x06, 0x07, 0xC7,
	0x05, 0xC5, 0xC4, 0x04, 0xCC, 0x0C, 0x0D, 0xCD, 0x0F, 0xCF, 0xCE, 0x0E,
	0x0A, 0xCA, 0xCB, 0x0B, 0xC9, 0x09, 0x08, 0xC8, 0xD8, 0x18, 0x19, 0xD9,
	0x1B, 0xDB, 0xDA, 0x1A, 0x1E, 0xDE, 0xDF, 0x1F, 0xDD, 0x1D, 0x1C, 0xDC,
	0x14, 0xD4, 0xD5, 0x15, 0xD7, 0x17, 0x16, 0xD6, 0xD2, 0x12, 0x13, 0xD3,
	0x11, 0xD1, 0xD0, 0x10, 0xF0, 0x30, 0x31, 0xF1, 0x33, 0xF3, 0xF2, 0x32,
	0x36, 0xF6, 0xF7, 0x37, 0xF5, 0x35, 0x34, 0xF4, 0x3C, 0xFC, 0xFD, 0x3D,
	0xFF, 0x3F, 0x3E, 0xFE, 0xFA, 0x3A, 0x3B, 0xFB, 0x39, 0xF9, 0xF8, 0x38,
	0x28, 0xE8, 0xE9, 0x29, 0xEB, 0x2B, 0x2A, 0xEA, 0xEE, 0x2E, 0x2F, 0xEF,
	0x2D, 0xED, 0xEC, 0x2C, 0xE4, 0x24, 0x25, 0xE5, 0x27, 0xE7, 0xE6, 0x26,
	0x22, 0xE2, 0xE3, 0x23, 0xE1, 0x21, 0x20, 0xE0, 0xA0, 0x60, 0x61, 0xA1,
	0x63, 0xA3, 0xA2, 0x62, 0x66, 0xA6, 0xA7, 0x67, 0xA5, 0x65, 0x64, 0xA4,
	0x6C, 0xAC, 0xAD, 0x6D, 0xAF, 0x6F, 0x6E, 0xAE, 0xAA, 0x6A, 0x6B, 0xAB,
	0x69, 0xA9, 0xA8, 0x68, 0x78, 0xB8, 0xB9, 0x79, 0xBB, 0x7B, 0x7A, 0xBA,
	0xBE, 0x7E, 0x7F, 0xBF, 0x7D, 0xBD, 0xBC, 0x7C, 0xB4, 0x74, 0x75, 0xB5,
	0x77, 0xB7, 0xB6, 0x76, 0x72, 0xB2, 0xB3, 0x73, 0xB1, 0x71, 0x70, 0xB0,
	0x50, 0x90, 0x91, 0x51, 0x93, 0x53, 0x52, 0x92, 0x96, 0x56, 0x57, 0x97,
	0x55, 0x95, 0x94, 0x54, 0x9C, 0x5C, 0x5D, 0x9D, 0x5F, 0x9F, 0x9E, 0x5E,
	0x5A, 0x9A, 0x9B, 0x5B, 0x99, 0x59, 0x58, 0x98, 0x88, 0x48, 0x49, 0x89,
	0x4B, 0x8B, 0x8A, 0x4A, 0x4E, 0x8E, 0x8F, 0x4F, 0x8D, 0x4D, 0x4C, 0x8C,
	0x44, 0x84, 0x85, 0x45, 0x87, 0x47, 0x46, 0x86, 0x82, 0x42, 0x43, 0x83,
	0x41, 0x81, 0x80, 0x40,
}

var _ bus.Bus = (*Bus)(nil)
