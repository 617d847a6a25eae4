package testsupport

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Packet describes one synthetic Ethernet/IPv4/UDP frame.
type Packet struct {
	Time    time.Time
	SrcMAC  string
	DstMAC  string
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// UDPFlow returns count packets between two hosts spaced by step, starting at start.
func UDPFlow(start time.Time, step time.Duration, count int, srcIP, dstIP string) []Packet {
	packets := make([]Packet, 0, count)
	for i := 0; i < count; i++ {
		packets = append(packets, Packet{
			Time:    start.Add(time.Duration(i) * step),
			SrcMAC:  "00:11:22:33:44:55",
			DstMAC:  "00:66:77:88:99:aa",
			SrcIP:   srcIP,
			DstIP:   dstIP,
			SrcPort: 40000,
			DstPort: 53,
			Payload: []byte{byte(i), 0xde, 0xad, 0xbe, 0xef},
		})
	}
	return packets
}

// WritePcap writes packets to path as a libpcap file with Ethernet link type.
func WritePcap(t testing.TB, path string, packets []Packet) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	w := pcapgo.NewWriterNanos(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("write pcap header: %v", err)
	}
	for _, p := range packets {
		data := serialize(t, p)
		ci := gopacket.CaptureInfo{Timestamp: p.Time, CaptureLength: len(data), Length: len(data)}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("write packet: %v", err)
		}
	}
	return path
}

func serialize(t testing.TB, p Packet) []byte {
	t.Helper()

	srcMAC, err := net.ParseMAC(p.SrcMAC)
	if err != nil {
		t.Fatalf("parse src mac: %v", err)
	}
	dstMAC, err := net.ParseMAC(p.DstMAC)
	if err != nil {
		t.Fatalf("parse dst mac: %v", err)
	}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(p.SrcIP).To4(),
		DstIP:    net.ParseIP(p.DstIP).To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(p.SrcPort), DstPort: layers.UDPPort(p.DstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set checksum layer: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p.Payload)); err != nil {
		t.Fatalf("serialize packet: %v", err)
	}
	return buf.Bytes()
}

// ReadPcap decodes every packet of a libpcap file.
func ReadPcap(t testing.TB, path string) []gopacket.Packet {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	return DecodePcap(t, f)
}

// DecodePcap decodes every packet from a libpcap stream.
func DecodePcap(t testing.TB, r io.Reader) []gopacket.Packet {
	t.Helper()

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		t.Fatalf("pcap reader: %v", err)
	}
	var packets []gopacket.Packet
	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read packet: %v", err)
		}
		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		packet.Metadata().CaptureInfo = ci
		packets = append(packets, packet)
	}
	return packets
}
