package pcaptool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"traceapi/internal/services"
)

// AddressPair maps an original address to its replacement.
type AddressPair struct {
	Original    string
	Replacement string
}

// Configuration is a validated rewrite plan for one normalization pass.
type Configuration struct {
	ips    map[netip.Addr]netip.Addr
	macs   map[string]net.HardwareAddr
	target time.Time
}

// Shifts reports whether packet timestamps are moved.
func (c Configuration) Shifts() bool {
	return !c.target.IsZero()
}

// Rewrites reports whether any address mapping is configured.
func (c Configuration) Rewrites() bool {
	return len(c.ips) > 0 || len(c.macs) > 0
}

// Normalizer rewrites captures according to a Configuration.
type Normalizer struct{}

// NewNormalizer returns a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// PrepareConfiguration validates the mappings and builds a Configuration.
// The first pair naming an original address wins. A zero timestamp leaves
// packet times untouched; otherwise the first packet is moved to timestamp
// seconds since the Unix epoch and every other packet keeps its offset.
func (n *Normalizer) PrepareConfiguration(ipMapping, macMapping []AddressPair, timestamp float64) (Configuration, error) {
	cfg := Configuration{
		ips:  make(map[netip.Addr]netip.Addr, len(ipMapping)),
		macs: make(map[string]net.HardwareAddr, len(macMapping)),
	}
	for i, pair := range ipMapping {
		original, err := netip.ParseAddr(strings.TrimSpace(pair.Original))
		if err != nil {
			return Configuration{}, invalidMapping("ip", i, "original", pair.Original, err)
		}
		replacement, err := netip.ParseAddr(strings.TrimSpace(pair.Replacement))
		if err != nil {
			return Configuration{}, invalidMapping("ip", i, "replacement", pair.Replacement, err)
		}
		original, replacement = original.Unmap(), replacement.Unmap()
		if original.Is4() != replacement.Is4() {
			return Configuration{}, services.Wrap(services.ErrValidation, "normalizer", "prepare",
				fmt.Sprintf("ip mapping %d: %s and %s are different address families", i, original, replacement), nil)
		}
		if _, seen := cfg.ips[original]; !seen {
			cfg.ips[original] = replacement
		}
	}
	for i, pair := range macMapping {
		original, err := net.ParseMAC(strings.TrimSpace(pair.Original))
		if err != nil {
			return Configuration{}, invalidMapping("mac", i, "original", pair.Original, err)
		}
		replacement, err := net.ParseMAC(strings.TrimSpace(pair.Replacement))
		if err != nil {
			return Configuration{}, invalidMapping("mac", i, "replacement", pair.Replacement, err)
		}
		if len(original) != len(replacement) {
			return Configuration{}, services.Wrap(services.ErrValidation, "normalizer", "prepare",
				fmt.Sprintf("mac mapping %d: address lengths differ", i), nil)
		}
		if _, seen := cfg.macs[string(original)]; !seen {
			cfg.macs[string(original)] = replacement
		}
	}
	if math.IsNaN(timestamp) || math.IsInf(timestamp, 0) || timestamp < 0 {
		return Configuration{}, services.Wrap(services.ErrValidation, "normalizer", "prepare",
			fmt.Sprintf("invalid timestamp %v", timestamp), nil)
	}
	if timestamp > 0 {
		sec, frac := math.Modf(timestamp)
		cfg.target = time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
	}
	return cfg, nil
}

func invalidMapping(kind string, index int, side, value string, err error) error {
	return services.Wrap(services.ErrValidation, "normalizer", "prepare",
		fmt.Sprintf("%s mapping %d: invalid %s address %q", kind, index, side, value), err)
}

// Normalize reads src, applies cfg, and writes the result to dst.
func (n *Normalizer) Normalize(ctx context.Context, src, dst string, cfg Configuration) error {
	in, err := openCapture(src)
	if err != nil {
		return services.Wrap(services.ErrNormalization, "normalizer", "open input", src, err)
	}
	defer in.Close()

	out, err := createCapture(dst, in.linkType())
	if err != nil {
		return services.Wrap(services.ErrNormalization, "normalizer", "create output", dst, err)
	}

	var (
		offset  time.Duration
		first   = true
		scratch = gopacket.NewSerializeBuffer()
	)
	for index := 0; ; index++ {
		if index%1024 == 0 {
			if err := ctx.Err(); err != nil {
				out.discard()
				return services.Wrap(services.ErrNormalization, "normalizer", "normalize", "cancelled", err)
			}
		}
		data, ci, err := in.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.discard()
			return services.Wrap(services.ErrNormalization, "normalizer", "read packet",
				fmt.Sprintf("packet %d", index), err)
		}
		if first {
			if cfg.Shifts() {
				offset = cfg.target.Sub(ci.Timestamp)
			}
			first = false
		}
		ci.Timestamp = ci.Timestamp.Add(offset)

		if cfg.Rewrites() {
			rewritten, err := rewritePacket(data, ci, in.linkType(), cfg, scratch)
			if err != nil {
				out.discard()
				return services.Wrap(services.ErrNormalization, "normalizer", "rewrite packet",
					fmt.Sprintf("packet %d", index), err)
			}
			if rewritten != nil {
				ci.Length += len(rewritten) - len(data)
				data = rewritten
				ci.CaptureLength = len(data)
				if ci.Length < ci.CaptureLength {
					ci.Length = ci.CaptureLength
				}
			}
		}
		if err := out.write(ci, data); err != nil {
			out.discard()
			return services.Wrap(services.ErrNormalization, "normalizer", "write packet",
				fmt.Sprintf("packet %d", index), err)
		}
	}
	if err := out.Close(); err != nil {
		return services.Wrap(services.ErrNormalization, "normalizer", "close output", dst, err)
	}
	return nil
}

// rewritePacket applies address mappings to one frame. It returns nil when
// nothing matched, so the original bytes are kept untouched.
func rewritePacket(data []byte, ci gopacket.CaptureInfo, linkType layers.LinkType, cfg Configuration, buf gopacket.SerializeBuffer) ([]byte, error) {
	packet := gopacket.NewPacket(data, linkType, gopacket.NoCopy)

	changed := false
	var network gopacket.NetworkLayer
	for _, layer := range packet.Layers() {
		switch l := layer.(type) {
		case *layers.Ethernet:
			changed = cfg.swapMAC(&l.SrcMAC) || changed
			changed = cfg.swapMAC(&l.DstMAC) || changed
		case *layers.ARP:
			changed = cfg.swapRawMAC(l.SourceHwAddress) || changed
			changed = cfg.swapRawMAC(l.DstHwAddress) || changed
			changed = cfg.swapRawIP(l.SourceProtAddress) || changed
			changed = cfg.swapRawIP(l.DstProtAddress) || changed
		case *layers.IPv4:
			if network == nil {
				network = l
			}
			changed = cfg.swapIP(&l.SrcIP) || changed
			changed = cfg.swapIP(&l.DstIP) || changed
		case *layers.IPv6:
			if network == nil {
				network = l
			}
			changed = cfg.swapIP(&l.SrcIP) || changed
			changed = cfg.swapIP(&l.DstIP) || changed
		case *layers.TCP:
			if network != nil {
				_ = l.SetNetworkLayerForChecksum(network)
			}
		case *layers.UDP:
			if network != nil {
				_ = l.SetNetworkLayerForChecksum(network)
			}
		case *layers.ICMPv6:
			if network != nil {
				_ = l.SetNetworkLayerForChecksum(network)
			}
		}
	}
	if !changed {
		return nil, nil
	}

	truncated := ci.CaptureLength < ci.Length
	opts := gopacket.SerializeOptions{ComputeChecksums: !truncated, FixLengths: !truncated}
	if err := buf.Clear(); err != nil {
		return nil, err
	}
	if err := gopacket.SerializeLayers(buf, opts, serializableLayers(packet)...); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// serializableLayers returns the packet's layers, folding everything from the
// first layer gopacket cannot serialize into a raw payload.
func serializableLayers(packet gopacket.Packet) []gopacket.SerializableLayer {
	var out []gopacket.SerializableLayer
	for _, layer := range packet.Layers() {
		if sl, ok := layer.(gopacket.SerializableLayer); ok {
			if _, isPayload := layer.(*gopacket.Payload); !isPayload {
				out = append(out, sl)
				continue
			}
		}
		rest := append(bytes.Clone(layer.LayerContents()), layer.LayerPayload()...)
		out = append(out, gopacket.Payload(rest))
		break
	}
	return out
}

func (c Configuration) swapMAC(addr *net.HardwareAddr) bool {
	if replacement, ok := c.macs[string(*addr)]; ok {
		*addr = replacement
		return true
	}
	return false
}

func (c Configuration) swapRawMAC(addr []byte) bool {
	if replacement, ok := c.macs[string(addr)]; ok && len(replacement) == len(addr) {
		copy(addr, replacement)
		return true
	}
	return false
}

func (c Configuration) swapIP(addr *net.IP) bool {
	current, ok := netip.AddrFromSlice(*addr)
	if !ok {
		return false
	}
	replacement, ok := c.ips[current.Unmap()]
	if !ok {
		return false
	}
	*addr = net.IP(replacement.AsSlice())
	return true
}

func (c Configuration) swapRawIP(addr []byte) bool {
	current, ok := netip.AddrFromSlice(addr)
	if !ok {
		return false
	}
	replacement, ok := c.ips[current.Unmap()]
	if !ok || len(replacement.AsSlice()) != len(addr) {
		return false
	}
	copy(addr, replacement.AsSlice())
	return true
}
