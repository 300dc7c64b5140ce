package p9c

// buffer is the scratch region the codec packs into and parses out of.
// The backing array is fixed at creation and never grows. Writes append
// at the write cursor and fail with ErrBufferFull when the array is
// exhausted. Reads consume from the read cursor and fail with
// ErrShortBuffer on underrun. Nothing is truncated silently.
type buffer struct {
	data []byte
	r    int // next byte to read
	w    int // next byte to write
}

func newBuffer(size int) *buffer {
	return &buffer{data: make([]byte, size)}
}

func (b *buffer) reset() {
	b.r, b.w = 0, 0
}

// len reports the bytes written but not yet consumed.
func (b *buffer) len() int {
	return b.w - b.r
}

func (b *buffer) bytes() []byte {
	return b.data[b.r:b.w]
}

func (b *buffer) wu8(v uint8) error {
	if b.w+1 > len(b.data) {
		return ErrBufferFull
	}
	b.data[b.w] = v
	b.w++
	return nil
}

func (b *buffer) wu16(v uint16) error {
	if b.w+2 > len(b.data) {
		return ErrBufferFull
	}
	b.data[b.w] = byte(v)
	b.data[b.w+1] = byte(v >> 8)
	b.w += 2
	return nil
}

func (b *buffer) wu32(v uint32) error {
	if b.w+4 > len(b.data) {
		return ErrBufferFull
	}
	b.data[b.w] = byte(v)
	b.data[b.w+1] = byte(v >> 8)
	b.data[b.w+2] = byte(v >> 16)
	b.data[b.w+3] = byte(v >> 24)
	b.w += 4
	return nil
}

func (b *buffer) wu64(v uint64) error {
	if b.w+8 > len(b.data) {
		return ErrBufferFull
	}
	for i := 0; i < 8; i++ {
		b.data[b.w+i] = byte(v >> (8 * i))
	}
	b.w += 8
	return nil
}

func (b *buffer) wbytes(p []byte) error {
	if b.w+len(p) > len(b.data) {
		return ErrBufferFull
	}
	copy(b.data[b.w:], p)
	b.w += len(p)
	return nil
}

// wstring writes a 2-byte length prefix followed by the UTF-8 payload.
// No terminator.
func (b *buffer) wstring(s string) error {
	if len(s) > 0xFFFF {
		return ErrStringTooLong
	}
	if err := b.wu16(uint16(len(s))); err != nil {
		return err
	}
	return b.wbytes([]byte(s))
}

// wqid writes the 13 wire bytes of a qid in declaration order:
// type[1] version[4] path[8].
func (b *buffer) wqid(q Qid) error {
	if b.w+13 > len(b.data) {
		return ErrBufferFull
	}
	b.wu8(uint8(q.Type))
	b.wu32(q.Version)
	b.wu64(q.Path)
	return nil
}

func (b *buffer) ru8() (uint8, error) {
	if b.len() < 1 {
		return 0, ErrShortBuffer
	}
	v := b.data[b.r]
	b.r++
	return v, nil
}

func (b *buffer) ru16() (uint16, error) {
	if b.len() < 2 {
		return 0, ErrShortBuffer
	}
	v := uint16(b.data[b.r]) | uint16(b.data[b.r+1])<<8
	b.r += 2
	return v, nil
}

func (b *buffer) ru32() (uint32, error) {
	if b.len() < 4 {
		return 0, ErrShortBuffer
	}
	v := uint32(b.data[b.r]) |
		uint32(b.data[b.r+1])<<8 |
		uint32(b.data[b.r+2])<<16 |
		uint32(b.data[b.r+3])<<24
	b.r += 4
	return v, nil
}

func (b *buffer) ru64() (uint64, error) {
	if b.len() < 8 {
		return 0, ErrShortBuffer
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b.data[b.r+i]) << (8 * i)
	}
	b.r += 8
	return v, nil
}

// rbytes returns n bytes without copying. The slice aliases the buffer
// and is valid until the next reset.
func (b *buffer) rbytes(n int) ([]byte, error) {
	if b.len() < n {
		return nil, ErrShortBuffer
	}
	p := b.data[b.r : b.r+n]
	b.r += n
	return p, nil
}

// rstring reads a 2-byte length prefix and its payload. A prefix that
// declares more bytes than remain in the message body is refused.
func (b *buffer) rstring() (string, error) {
	n, err := b.ru16()
	if err != nil {
		return "", err
	}
	if int(n) > b.len() {
		return "", ErrStringTooLong
	}
	s := string(b.data[b.r : b.r+int(n)])
	b.r += int(n)
	return s, nil
}

func (b *buffer) rqid() (Qid, error) {
	if b.len() < 13 {
		return Qid{}, ErrShortBuffer
	}
	t, _ := b.ru8()
	ver, _ := b.ru32()
	path, _ := b.ru64()
	return Qid{Type: QType(t), Version: ver, Path: path}, nil
}
