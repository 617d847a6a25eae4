package pcaptool_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"

	"traceapi/internal/pcaptool"
	"traceapi/internal/services"
	"traceapi/internal/testsupport"
)

func TestPrepareConfigurationValidatesAddresses(t *testing.T) {
	n := pcaptool.NewNormalizer()

	cases := []struct {
		name string
		ip   []pcaptool.AddressPair
		mac  []pcaptool.AddressPair
		ts   float64
	}{
		{name: "bad ip", ip: []pcaptool.AddressPair{{Original: "1.2.3", Replacement: "1.2.3.4"}}},
		{name: "mixed family", ip: []pcaptool.AddressPair{{Original: "1.2.3.4", Replacement: "::1"}}},
		{name: "bad mac", mac: []pcaptool.AddressPair{{Original: "00:11", Replacement: "00:11:22:33:44:55"}}},
		{name: "negative timestamp", ts: -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := n.PrepareConfiguration(tc.ip, tc.mac, tc.ts); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	cfg, err := n.PrepareConfiguration(
		[]pcaptool.AddressPair{{Original: "1.2.3.4", Replacement: "172.16.0.0"}},
		[]pcaptool.AddressPair{{Original: "00:A0:C9:14:C8:29", Replacement: "00:A0:C9:14:C8:29"}},
		0,
	)
	if err != nil {
		t.Fatalf("PrepareConfiguration: %v", err)
	}
	if !cfg.Rewrites() || cfg.Shifts() {
		t.Fatalf("unexpected configuration flags rewrites=%v shifts=%v", cfg.Rewrites(), cfg.Shifts())
	}
}

func TestNormalizeRewritesAddressesAndShiftsTime(t *testing.T) {
	dir := t.TempDir()
	start := time.Unix(1_600_000_000, 250_000_000)
	src := testsupport.WritePcap(t, filepath.Join(dir, "in.pcap"),
		testsupport.UDPFlow(start, 10*time.Millisecond, 4, "10.0.0.1", "10.0.0.2"))
	dst := filepath.Join(dir, "out.pcap")

	n := pcaptool.NewNormalizer()
	cfg, err := n.PrepareConfiguration(
		[]pcaptool.AddressPair{
			{Original: "10.0.0.1", Replacement: "192.168.1.1"},
			{Original: "10.0.0.1", Replacement: "192.168.9.9"},
		},
		[]pcaptool.AddressPair{{Original: "00:11:22:33:44:55", Replacement: "02:00:00:00:00:01"}},
		134,
	)
	if err != nil {
		t.Fatalf("PrepareConfiguration: %v", err)
	}
	if err := n.Normalize(context.Background(), src, dst, cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	packets := testsupport.ReadPcap(t, dst)
	if len(packets) != 4 {
		t.Fatalf("expected 4 packets, got %d", len(packets))
	}
	for i, packet := range packets {
		want := time.Unix(134, 0).Add(time.Duration(i) * 10 * time.Millisecond)
		if got := packet.Metadata().Timestamp; !got.Equal(want) {
			t.Fatalf("packet %d: expected timestamp %v, got %v", i, want, got)
		}
		eth := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
		if eth.SrcMAC.String() != "02:00:00:00:00:01" || eth.DstMAC.String() != "00:66:77:88:99:aa" {
			t.Fatalf("packet %d: unexpected macs %s -> %s", i, eth.SrcMAC, eth.DstMAC)
		}
		ip := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		if ip.SrcIP.String() != "192.168.1.1" || ip.DstIP.String() != "10.0.0.2" {
			t.Fatalf("packet %d: unexpected ips %s -> %s", i, ip.SrcIP, ip.DstIP)
		}
		udp := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if len(udp.Payload) != 5 || udp.Payload[0] != byte(i) {
			t.Fatalf("packet %d: payload not preserved: %v", i, udp.Payload)
		}
	}
}

func TestNormalizeWithoutRulesKeepsBytes(t *testing.T) {
	dir := t.TempDir()
	start := time.Unix(1_600_000_000, 0)
	src := testsupport.WritePcap(t, filepath.Join(dir, "in.pcap"),
		testsupport.UDPFlow(start, time.Second, 3, "10.0.0.1", "10.0.0.2"))
	dst := filepath.Join(dir, "out.pcap")

	n := pcaptool.NewNormalizer()
	cfg, err := n.PrepareConfiguration(nil, nil, 0)
	if err != nil {
		t.Fatalf("PrepareConfiguration: %v", err)
	}
	if err := n.Normalize(context.Background(), src, dst, cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	before := testsupport.ReadPcap(t, src)
	after := testsupport.ReadPcap(t, dst)
	if len(before) != len(after) {
		t.Fatalf("packet count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if string(before[i].Data()) != string(after[i].Data()) {
			t.Fatalf("packet %d bytes changed", i)
		}
		if !before[i].Metadata().Timestamp.Equal(after[i].Metadata().Timestamp) {
			t.Fatalf("packet %d timestamp changed", i)
		}
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "garbage.pcap")
	if err := os.WriteFile(src, []byte("definitely not a capture file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	n := pcaptool.NewNormalizer()
	cfg, _ := n.PrepareConfiguration(nil, nil, 0)
	err := n.Normalize(context.Background(), src, filepath.Join(dir, "out.pcap"), cfg)
	if !errors.Is(err, services.ErrNormalization) {
		t.Fatalf("expected normalization error, got %v", err)
	}
}

func TestAnalyzeCountsPacketsAndAddresses(t *testing.T) {
	dir := t.TempDir()
	start := time.Unix(100, 0)
	path := testsupport.WritePcap(t, filepath.Join(dir, "in.pcap"),
		testsupport.UDPFlow(start, 500*time.Millisecond, 5, "10.0.0.1", "10.0.0.2"))

	stats, err := pcaptool.NewAnalyzer().Analyze(context.Background(), path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if stats.Packets != 5 {
		t.Fatalf("expected 5 packets, got %d", stats.Packets)
	}
	if stats.FirstTimestamp != 100 || stats.LastTimestamp != 102 || stats.Duration != 2 {
		t.Fatalf("unexpected time range %+v", stats)
	}
	if stats.Protocols["UDP"] != 5 || stats.Protocols["IPv4"] != 5 {
		t.Fatalf("unexpected protocol counts %v", stats.Protocols)
	}
	if len(stats.IPs) != 2 || stats.IPs[0] != "10.0.0.1" || stats.IPs[1] != "10.0.0.2" {
		t.Fatalf("unexpected ips %v", stats.IPs)
	}
	if len(stats.MACs) != 2 {
		t.Fatalf("unexpected macs %v", stats.MACs)
	}
	if stats.LinkType != layers.LinkTypeEthernet.String() {
		t.Fatalf("unexpected link type %q", stats.LinkType)
	}
}

func TestMixerMergesInTimeOrder(t *testing.T) {
	dir := t.TempDir()
	a := testsupport.WritePcap(t, filepath.Join(dir, "a.pcap"),
		testsupport.UDPFlow(time.Unix(10, 0), 2*time.Second, 3, "10.0.0.1", "10.0.0.2"))
	b := testsupport.WritePcap(t, filepath.Join(dir, "b.pcap"),
		testsupport.UDPFlow(time.Unix(11, 0), 2*time.Second, 3, "10.0.1.1", "10.0.1.2"))
	c := testsupport.WritePcap(t, filepath.Join(dir, "c.pcap"),
		testsupport.UDPFlow(time.Unix(10, 0), 0, 1, "10.0.2.1", "10.0.2.2"))

	mixer := pcaptool.NewMerger().NewMixer(filepath.Join(dir, "merged.pcap"))
	for _, input := range []string{a, b, c} {
		if err := mixer.Mix(context.Background(), input); err != nil {
			t.Fatalf("Mix(%s): %v", input, err)
		}
	}
	if mixer.Inputs() != 3 || mixer.Packets() != 7 {
		t.Fatalf("unexpected mixer counters inputs=%d packets=%d", mixer.Inputs(), mixer.Packets())
	}

	packets := testsupport.ReadPcap(t, mixer.Output())
	if len(packets) != 7 {
		t.Fatalf("expected 7 packets, got %d", len(packets))
	}
	for i := 1; i < len(packets); i++ {
		if packets[i].Metadata().Timestamp.Before(packets[i-1].Metadata().Timestamp) {
			t.Fatalf("packets out of order at %d", i)
		}
	}
	first := packets[0].Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	second := packets[1].Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if first.SrcIP.String() != "10.0.0.1" || second.SrcIP.String() != "10.0.2.1" {
		t.Fatalf("tie not resolved in favour of earlier input: %s, %s", first.SrcIP, second.SrcIP)
	}
	if _, err := os.Stat(filepath.Join(dir, ".merged.pcap.merge")); !os.IsNotExist(err) {
		t.Fatalf("temporary merge file left behind: %v", err)
	}
}

func TestMixerRejectsLinkTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	a := testsupport.WritePcap(t, filepath.Join(dir, "a.pcap"),
		testsupport.UDPFlow(time.Unix(10, 0), time.Second, 2, "10.0.0.1", "10.0.0.2"))
	raw := filepath.Join(dir, "raw.pcap")
	writeRawIPCapture(t, raw)

	mixer := pcaptool.NewMerger().NewMixer(filepath.Join(dir, "merged.pcap"))
	if err := mixer.Mix(context.Background(), a); err != nil {
		t.Fatalf("Mix: %v", err)
	}
	if err := mixer.Mix(context.Background(), raw); !errors.Is(err, services.ErrMerge) {
		t.Fatalf("expected merge error, got %v", err)
	}
	if got := len(testsupport.ReadPcap(t, mixer.Output())); got != 2 {
		t.Fatalf("output must be unchanged after failed mix, got %d packets", got)
	}
}

func TestMixerHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	a := testsupport.WritePcap(t, filepath.Join(dir, "a.pcap"),
		testsupport.UDPFlow(time.Unix(10, 0), time.Second, 2, "10.0.0.1", "10.0.0.2"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mixer := pcaptool.NewMerger().NewMixer(filepath.Join(dir, "merged.pcap"))
	if err := mixer.Mix(ctx, a); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if mixer.Inputs() != 0 {
		t.Fatal("cancelled mix must not count as an input")
	}
}
