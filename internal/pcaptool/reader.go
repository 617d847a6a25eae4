package pcaptool

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const defaultSnaplen = 262144

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// captureFile is an open input capture.
type captureFile struct {
	file   *os.File
	source packetSource
}

func openCapture(path string) (*captureFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	head, err := br.Peek(4)
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: file too short for a capture header", path)
		}
		return nil, err
	}
	var source packetSource
	if bytes.Equal(head, pcapngMagic) {
		source, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		source, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &captureFile{file: f, source: source}, nil
}

// next returns the next packet; io.EOF marks the end of the capture.
func (c *captureFile) next() ([]byte, gopacket.CaptureInfo, error) {
	return c.source.ReadPacketData()
}

func (c *captureFile) linkType() layers.LinkType {
	return c.source.LinkType()
}

func (c *captureFile) Close() error {
	return c.file.Close()
}

// captureWriter writes a libpcap file with nanosecond timestamps.
type captureWriter struct {
	file   *os.File
	buf    *bufio.Writer
	writer *pcapgo.Writer
}

func createCapture(path string, linkType layers.LinkType) (*captureWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriterNanos(buf)
	if err := w.WriteFileHeader(defaultSnaplen, linkType); err != nil {
		f.Close()
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return &captureWriter{file: f, buf: buf, writer: w}, nil
}

func (w *captureWriter) write(ci gopacket.CaptureInfo, data []byte) error {
	return w.writer.WritePacket(ci, data)
}

// Close flushes buffered packets and syncs the file.
func (w *captureWriter) Close() error {
	flushErr := w.buf.Flush()
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	return errors.Join(flushErr, syncErr, closeErr)
}

// discard closes and removes a partially written capture.
func (w *captureWriter) discard() {
	_ = w.file.Close()
	_ = os.Remove(w.file.Name())
}
