package p9c

import (
	"context"
	"io"
	"net"
	"time"
)

// Channel frames Fcalls over a reliable byte stream. It performs its
// own framing: the transport only has to deliver ordered bytes.
type Channel interface {
	ReadFcall(ctx context.Context, fcall *Fcall) error
	WriteFcall(ctx context.Context, fcall *Fcall) error

	MSize() int
	SetMSize(msize int)
}

// NewChannel frames messages over conn, bounding every frame at msize
// bytes. The send and receive buffers are sized once, here; the
// channel never allocates per message.
func NewChannel(conn io.ReadWriteCloser, msize int) Channel {
	return &channel{
		conn:  conn,
		msize: msize,
		rbuf:  newBuffer(msize),
		wbuf:  newBuffer(msize),
	}
}

type channel struct {
	conn  io.ReadWriteCloser
	msize int
	rbuf  *buffer
	wbuf  *buffer
}

func (ch *channel) MSize() int {
	return ch.msize
}

// SetMSize installs the negotiated msize. Negotiation can only shrink
// the bound, so the buffers keep their original backing arrays.
func (ch *channel) SetMSize(msize int) {
	ch.msize = msize
}

// ReadFcall blocks until exactly one complete frame is read, then
// validates and decodes it. The decoded message may alias the receive
// buffer; it goes stale on the next call.
func (ch *channel) ReadFcall(ctx context.Context, fcall *Fcall) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	ch.setDeadline(ctx)

	b := ch.rbuf
	b.reset()

	hdr := b.data[:4]
	if _, err := io.ReadFull(ch.conn, hdr); err != nil {
		switch err {
		case io.EOF:
			return ErrClosed
		case io.ErrUnexpectedEOF:
			return ErrTruncated
		}
		return err
	}
	size := int(uint32(hdr[0]) |
		uint32(hdr[1])<<8 |
		uint32(hdr[2])<<16 |
		uint32(hdr[3])<<24)
	if size < 7 {
		return ErrShortHeader
	}
	if size > ch.msize {
		return ErrOversize
	}
	if _, err := io.ReadFull(ch.conn, b.data[4:size]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrTruncated
		}
		return err
	}
	b.r, b.w = 4, size

	t, _ := b.ru8()
	typ := FcallType(t)
	if !typ.valid() {
		return ErrUnknownType
	}
	tag, _ := b.ru16()

	msg, err := decodeMessage(b, typ)
	if err != nil {
		return err
	}
	if b.len() != 0 {
		return ErrMalformedBody
	}

	fcall.Type = typ
	fcall.Tag = Tag(tag)
	fcall.Message = msg
	return nil
}

// WriteFcall marshals and sends one frame: four reserved size bytes,
// type, tag, body, then the size patched over the reservation.
func (ch *channel) WriteFcall(ctx context.Context, fcall *Fcall) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	ch.setDeadline(ctx)

	b := ch.wbuf
	b.reset()
	b.w = 4 // size goes here last
	b.wu8(uint8(fcall.Type))
	b.wu16(uint16(fcall.Tag))
	if err := encodeMessage(b, fcall.Message); err != nil {
		if err == ErrBufferFull {
			// The buffer is exactly msize bytes, so running out of
			// room and exceeding msize are the same event.
			return ErrOversize
		}
		return err
	}
	size := b.w
	if size > ch.msize {
		return ErrOversize
	}
	b.data[0] = byte(size)
	b.data[1] = byte(size >> 8)
	b.data[2] = byte(size >> 16)
	b.data[3] = byte(size >> 24)

	for n := 0; n < size; {
		nn, err := ch.conn.Write(b.data[n:size])
		if err != nil {
			return err
		}
		n += nn
	}
	return nil
}

// setDeadline forwards a context deadline to the transport when it is
// a net.Conn. Cancellation otherwise happens by closing the transport.
func (ch *channel) setDeadline(ctx context.Context) {
	conn, ok := ch.conn.(net.Conn)
	if !ok {
		return
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	conn.SetDeadline(deadline)
}
