package pcaptool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"traceapi/internal/services"
)

// Merger creates Mixers.
type Merger struct{}

// NewMerger returns a Merger.
func NewMerger() *Merger {
	return &Merger{}
}

// NewMixer returns a Mixer accumulating into outputPath.
func (m *Merger) NewMixer(outputPath string) *Mixer {
	return &Mixer{output: outputPath}
}

// Mixer folds captures into a single time-ordered output file. Each Mix call
// merges the running output with one more input; on equal timestamps packets
// already in the output come first.
type Mixer struct {
	output   string
	linkType layers.LinkType
	inputs   int
	packets  int
}

// Output returns the path of the merged capture.
func (m *Mixer) Output() string {
	return m.output
}

// Inputs returns how many captures have been mixed so far.
func (m *Mixer) Inputs() int {
	return m.inputs
}

// Packets returns the number of packets in the output.
func (m *Mixer) Packets() int {
	return m.packets
}

// Mix merges input into the output.
func (m *Mixer) Mix(ctx context.Context, input string) error {
	in, err := openCapture(input)
	if err != nil {
		return services.Wrap(services.ErrMerge, "merger", "open input", input, err)
	}
	defer in.Close()

	if m.inputs > 0 && in.linkType() != m.linkType {
		return services.Wrap(services.ErrMerge, "merger", "mix",
			fmt.Sprintf("link type %s does not match %s", in.linkType(), m.linkType), nil)
	}

	tmp := filepath.Join(filepath.Dir(m.output), "."+filepath.Base(m.output)+".merge")
	out, err := createCapture(tmp, in.linkType())
	if err != nil {
		return services.Wrap(services.ErrMerge, "merger", "create output", tmp, err)
	}

	var running *captureFile
	if m.inputs > 0 {
		running, err = openCapture(m.output)
		if err != nil {
			out.discard()
			return services.Wrap(services.ErrMerge, "merger", "open running output", m.output, err)
		}
		defer running.Close()
	}

	written, err := mergeStreams(ctx, out, running, in)
	if err != nil {
		out.discard()
		return services.Wrap(services.ErrMerge, "merger", "mix", input, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrMerge, "merger", "close output", tmp, err)
	}
	if err := os.Rename(tmp, m.output); err != nil {
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrMerge, "merger", "replace output", m.output, err)
	}
	if m.inputs == 0 {
		m.linkType = in.linkType()
	}
	m.inputs++
	m.packets = written
	return nil
}

type pendingPacket struct {
	data []byte
	ci   gopacket.CaptureInfo
	ok   bool
}

func (p *pendingPacket) advance(src *captureFile) error {
	p.ok = false
	if src == nil {
		return nil
	}
	data, ci, err := src.next()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	p.data, p.ci, p.ok = data, ci, true
	return nil
}

// mergeStreams writes the union of both sources ordered by timestamp. The
// running side wins ties.
func mergeStreams(ctx context.Context, out *captureWriter, running, input *captureFile) (int, error) {
	var left, right pendingPacket
	if err := left.advance(running); err != nil {
		return 0, fmt.Errorf("read running output: %w", err)
	}
	if err := right.advance(input); err != nil {
		return 0, fmt.Errorf("read input: %w", err)
	}

	written := 0
	for left.ok || right.ok {
		if written%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return written, err
			}
		}
		takeLeft := left.ok && (!right.ok || !right.ci.Timestamp.Before(left.ci.Timestamp))
		if takeLeft {
			if err := out.write(left.ci, left.data); err != nil {
				return written, err
			}
			if err := left.advance(running); err != nil {
				return written, fmt.Errorf("read running output: %w", err)
			}
		} else {
			if err := out.write(right.ci, right.data); err != nil {
				return written, err
			}
			if err := right.advance(input); err != nil {
				return written, fmt.Errorf("read input: %w", err)
			}
		}
		written++
	}
	return written, nil
}
