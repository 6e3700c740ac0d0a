package discord

import (
	"bufio"
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
)

// ErrBadOggPage is returned when the stream is not an Ogg bitstream.
var ErrBadOggPage = errors.New("bad ogg page")

const (
	oggHeaderSize = 27
	oggMaxSegment = 255
)

var (
	opusHead = []byte("OpusHead")
	opusTags = []byte("OpusTags")
)

// OggReader reads Opus packets out of an Ogg stream produced by ffmpeg.
// Only a single logical bitstream is supported.
type OggReader struct {
	r       *bufio.Reader
	header  [oggHeaderSize]byte
	pending []byte   // Packet continued on the next page
	packets [][]byte // Complete packets of the current page
}

// NewOggReader creates a new Ogg reader.
func NewOggReader(r io.Reader) *OggReader {
	return &OggReader{r: bufio.NewReaderSize(r, 16*1024)}
}

// ReadPacket returns the next audio packet. The OpusHead and OpusTags
// header packets are skipped. It returns io.EOF at the end of the stream.
func (o *OggReader) ReadPacket() ([]byte, error) {
	for {
		for len(o.packets) > 0 {
			p := o.packets[0]
			o.packets = o.packets[1:]
			if bytes.HasPrefix(p, opusHead) || bytes.HasPrefix(p, opusTags) {
				continue
			}
			return p, nil
		}
		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
}

func (o *OggReader) readPage() error {
	if _, err := io.ReadFull(o.r, o.header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return errors.Wrap(err, "truncated ogg page header")
		}
		return err
	}
	if !bytes.Equal(o.header[:4], []byte("OggS")) {
		return errors.Wrapf(ErrBadOggPage, "capture pattern %q", o.header[:4])
	}

	segments := make([]byte, o.header[26])
	if _, err := io.ReadFull(o.r, segments); err != nil {
		return errors.Wrap(eofAsTruncated(err), "failed to read ogg segment table")
	}

	size := 0
	for _, l := range segments {
		size += int(l)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(o.r, data); err != nil {
		return errors.Wrap(eofAsTruncated(err), "failed to read ogg page body")
	}

	offset := 0
	for _, l := range segments {
		o.pending = append(o.pending, data[offset:offset+int(l)]...)
		offset += int(l)
		if l < oggMaxSegment {
			o.packets = append(o.packets, o.pending)
			o.pending = nil
		}
	}
	return nil
}

func eofAsTruncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
