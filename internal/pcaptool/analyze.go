package pcaptool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"slices"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"traceapi/internal/services"
)

// Stats summarizes a capture file.
type Stats struct {
	Packets        int            `json:"packets"`
	Bytes          int64          `json:"bytes"`
	CapturedBytes  int64          `json:"captured_bytes"`
	FirstTimestamp float64        `json:"first_timestamp"`
	LastTimestamp  float64        `json:"last_timestamp"`
	Duration       float64        `json:"duration"`
	LinkType       string         `json:"link_type"`
	Protocols      map[string]int `json:"protocols"`
	IPs            []string       `json:"ips"`
	MACs           []string       `json:"macs"`
}

// Analyzer computes Stats.
type Analyzer struct{}

// NewAnalyzer returns an Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze reads every packet of the capture at path.
func (a *Analyzer) Analyze(ctx context.Context, path string) (Stats, error) {
	in, err := openCapture(path)
	if err != nil {
		return Stats{}, services.Wrap(services.ErrNormalization, "analyzer", "open input", path, err)
	}
	defer in.Close()

	stats := Stats{
		LinkType:  in.linkType().String(),
		Protocols: make(map[string]int),
	}
	ips := make(map[netip.Addr]struct{})
	macs := make(map[string]struct{})
	var first, last time.Time

	for index := 0; ; index++ {
		if index%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return Stats{}, services.Wrap(services.ErrNormalization, "analyzer", "analyze", "cancelled", err)
			}
		}
		data, ci, err := in.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Stats{}, services.Wrap(services.ErrNormalization, "analyzer", "read packet",
				fmt.Sprintf("packet %d", index), err)
		}
		stats.Packets++
		stats.Bytes += int64(ci.Length)
		stats.CapturedBytes += int64(ci.CaptureLength)
		if first.IsZero() || ci.Timestamp.Before(first) {
			first = ci.Timestamp
		}
		if ci.Timestamp.After(last) {
			last = ci.Timestamp
		}

		packet := gopacket.NewPacket(data, in.linkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		for _, layer := range packet.Layers() {
			if layer.LayerType() == gopacket.LayerTypePayload {
				continue
			}
			stats.Protocols[layer.LayerType().String()]++
			switch l := layer.(type) {
			case *layers.Ethernet:
				macs[l.SrcMAC.String()] = struct{}{}
				macs[l.DstMAC.String()] = struct{}{}
			case *layers.IPv4:
				addIP(ips, l.SrcIP)
				addIP(ips, l.DstIP)
			case *layers.IPv6:
				addIP(ips, l.SrcIP)
				addIP(ips, l.DstIP)
			}
		}
	}

	if stats.Packets > 0 {
		stats.FirstTimestamp = epochSeconds(first)
		stats.LastTimestamp = epochSeconds(last)
		stats.Duration = last.Sub(first).Seconds()
	}
	stats.IPs = sortedIPs(ips)
	stats.MACs = make([]string, 0, len(macs))
	for mac := range macs {
		stats.MACs = append(stats.MACs, mac)
	}
	slices.Sort(stats.MACs)
	return stats, nil
}

func addIP(set map[netip.Addr]struct{}, ip []byte) {
	if addr, ok := netip.AddrFromSlice(ip); ok {
		set[addr.Unmap()] = struct{}{}
	}
}

func sortedIPs(set map[netip.Addr]struct{}) []string {
	addrs := make([]netip.Addr, 0, len(set))
	for addr := range set {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, func(a, b netip.Addr) int { return a.Compare(b) })
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.String())
	}
	return out
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
