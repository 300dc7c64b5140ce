package p9c

import (
	"fmt"
	"time"
)

// Message is the body of one 9P frame, a tagged sum over the wire type
// byte. Each variant packs and parses with a pure per-variant function
// in encodeMessage/decodeMessage.
type Message interface {
	Type() FcallType
}

type MessageTversion struct {
	MSize   uint32
	Version string
}

type MessageRversion struct {
	MSize   uint32
	Version string
}

type MessageTauth struct {
	Afid  Fid
	Uname string
	Aname string
}

type MessageRauth struct {
	Qid Qid
}

type MessageTattach struct {
	Fid   Fid
	Afid  Fid
	Uname string
	Aname string
}

type MessageRattach struct {
	Qid Qid
}

type MessageTflush struct {
	Oldtag Tag
}

type MessageRflush struct{}

type MessageTwalk struct {
	Fid    Fid
	Newfid Fid
	Wnames []string
}

type MessageRwalk struct {
	Qids []Qid
}

type MessageTopen struct {
	Fid  Fid
	Mode Flag
}

type MessageRopen struct {
	Qid    Qid
	IOUnit uint32
}

type MessageTcreate struct {
	Fid  Fid
	Name string
	Perm uint32
	Mode Flag
}

type MessageRcreate struct {
	Qid    Qid
	IOUnit uint32
}

type MessageTread struct {
	Fid    Fid
	Offset uint64
	Count  uint32
}

// MessageRread carries the returned payload. After a decode, Data
// aliases the receive buffer and is only valid until the next message
// is read on the channel.
type MessageRread struct {
	Data []byte
}

type MessageTwrite struct {
	Fid    Fid
	Offset uint64
	Data   []byte
}

type MessageRwrite struct {
	Count uint32
}

type MessageTclunk struct {
	Fid Fid
}

type MessageRclunk struct{}

type MessageTremove struct {
	Fid Fid
}

type MessageRremove struct{}

type MessageTstat struct {
	Fid Fid
}

type MessageRstat struct {
	Stat Dir
}

type MessageTwstat struct {
	Fid  Fid
	Stat Dir
}

type MessageRwstat struct{}

func (MessageTversion) Type() FcallType { return Tversion }
func (MessageRversion) Type() FcallType { return Rversion }
func (MessageTauth) Type() FcallType    { return Tauth }
func (MessageRauth) Type() FcallType    { return Rauth }
func (MessageTattach) Type() FcallType  { return Tattach }
func (MessageRattach) Type() FcallType  { return Rattach }
func (MessageTflush) Type() FcallType   { return Tflush }
func (MessageRflush) Type() FcallType   { return Rflush }
func (MessageTwalk) Type() FcallType    { return Twalk }
func (MessageRwalk) Type() FcallType    { return Rwalk }
func (MessageTopen) Type() FcallType    { return Topen }
func (MessageRopen) Type() FcallType    { return Ropen }
func (MessageTcreate) Type() FcallType  { return Tcreate }
func (MessageRcreate) Type() FcallType  { return Rcreate }
func (MessageTread) Type() FcallType    { return Tread }
func (MessageRread) Type() FcallType    { return Rread }
func (MessageTwrite) Type() FcallType   { return Twrite }
func (MessageRwrite) Type() FcallType   { return Rwrite }
func (MessageTclunk) Type() FcallType   { return Tclunk }
func (MessageRclunk) Type() FcallType   { return Rclunk }
func (MessageTremove) Type() FcallType  { return Tremove }
func (MessageRremove) Type() FcallType  { return Rremove }
func (MessageTstat) Type() FcallType    { return Tstat }
func (MessageRstat) Type() FcallType    { return Rstat }
func (MessageTwstat) Type() FcallType   { return Twstat }
func (MessageRwstat) Type() FcallType   { return Rwstat }

func (m MessageRread) String() string {
	return fmt.Sprintf("Rread [%d]", len(m.Data))
}

func (m MessageTwrite) String() string {
	return fmt.Sprintf("Twrite %v offset=%d [%d]", m.Fid, m.Offset, len(m.Data))
}

// encodeMessage packs the body of m. The frame header is the channel's
// business.
func encodeMessage(b *buffer, m Message) error {
	switch msg := m.(type) {
	case MessageTversion:
		if err := b.wu32(msg.MSize); err != nil {
			return err
		}
		return b.wstring(msg.Version)
	case MessageRversion:
		if err := b.wu32(msg.MSize); err != nil {
			return err
		}
		return b.wstring(msg.Version)
	case MessageTauth:
		if err := b.wu32(uint32(msg.Afid)); err != nil {
			return err
		}
		if err := b.wstring(msg.Uname); err != nil {
			return err
		}
		return b.wstring(msg.Aname)
	case MessageRauth:
		return b.wqid(msg.Qid)
	case MessageTattach:
		if err := b.wu32(uint32(msg.Fid)); err != nil {
			return err
		}
		if err := b.wu32(uint32(msg.Afid)); err != nil {
			return err
		}
		if err := b.wstring(msg.Uname); err != nil {
			return err
		}
		return b.wstring(msg.Aname)
	case MessageRattach:
		return b.wqid(msg.Qid)
	case MessageRerror:
		return b.wstring(msg.Ename)
	case MessageTflush:
		return b.wu16(uint16(msg.Oldtag))
	case MessageRflush:
		return nil
	case MessageTwalk:
		if len(msg.Wnames) > MaxWElem {
			return ErrWalkLimit
		}
		if err := b.wu32(uint32(msg.Fid)); err != nil {
			return err
		}
		if err := b.wu32(uint32(msg.Newfid)); err != nil {
			return err
		}
		if err := b.wu16(uint16(len(msg.Wnames))); err != nil {
			return err
		}
		for _, name := range msg.Wnames {
			if err := b.wstring(name); err != nil {
				return err
			}
		}
		return nil
	case MessageRwalk:
		if len(msg.Qids) > MaxWElem {
			return ErrWalkLimit
		}
		if err := b.wu16(uint16(len(msg.Qids))); err != nil {
			return err
		}
		for _, q := range msg.Qids {
			if err := b.wqid(q); err != nil {
				return err
			}
		}
		return nil
	case MessageTopen:
		if err := b.wu32(uint32(msg.Fid)); err != nil {
			return err
		}
		return b.wu8(uint8(msg.Mode))
	case MessageRopen:
		if err := b.wqid(msg.Qid); err != nil {
			return err
		}
		return b.wu32(msg.IOUnit)
	case MessageTcreate:
		if err := b.wu32(uint32(msg.Fid)); err != nil {
			return err
		}
		if err := b.wstring(msg.Name); err != nil {
			return err
		}
		if err := b.wu32(msg.Perm); err != nil {
			return err
		}
		return b.wu8(uint8(msg.Mode))
	case MessageRcreate:
		if err := b.wqid(msg.Qid); err != nil {
			return err
		}
		return b.wu32(msg.IOUnit)
	case MessageTread:
		if err := b.wu32(uint32(msg.Fid)); err != nil {
			return err
		}
		if err := b.wu64(msg.Offset); err != nil {
			return err
		}
		return b.wu32(msg.Count)
	case MessageRread:
		if err := b.wu32(uint32(len(msg.Data))); err != nil {
			return err
		}
		return b.wbytes(msg.Data)
	case MessageTwrite:
		if err := b.wu32(uint32(msg.Fid)); err != nil {
			return err
		}
		if err := b.wu64(msg.Offset); err != nil {
			return err
		}
		if err := b.wu32(uint32(len(msg.Data))); err != nil {
			return err
		}
		return b.wbytes(msg.Data)
	case MessageRwrite:
		return b.wu32(msg.Count)
	case MessageTclunk:
		return b.wu32(uint32(msg.Fid))
	case MessageRclunk:
		return nil
	case MessageTremove:
		return b.wu32(uint32(msg.Fid))
	case MessageRremove:
		return nil
	case MessageTstat:
		return b.wu32(uint32(msg.Fid))
	case MessageRstat:
		return encodeStat(b, msg.Stat)
	case MessageTwstat:
		if err := b.wu32(uint32(msg.Fid)); err != nil {
			return err
		}
		return encodeStat(b, msg.Stat)
	case MessageRwstat:
		return nil
	default:
		return ErrUnknownType
	}
}

// decodeMessage parses the body of a frame whose header named t. The
// buffer holds exactly the body; the caller rejects leftovers. A
// fixed-width underrun is a malformed body, not a short buffer: the
// frame's own size field promised more than it delivered.
func decodeMessage(b *buffer, t FcallType) (Message, error) {
	msg, err := decodeBody(b, t)
	if err == ErrShortBuffer {
		err = ErrMalformedBody
	}
	return msg, err
}

func decodeBody(b *buffer, t FcallType) (Message, error) {
	switch t {
	case Tversion, Rversion:
		msize, err := b.ru32()
		if err != nil {
			return nil, err
		}
		version, err := b.rstring()
		if err != nil {
			return nil, err
		}
		if t == Tversion {
			return MessageTversion{MSize: msize, Version: version}, nil
		}
		return MessageRversion{MSize: msize, Version: version}, nil
	case Tauth:
		afid, err := b.ru32()
		if err != nil {
			return nil, err
		}
		uname, err := b.rstring()
		if err != nil {
			return nil, err
		}
		aname, err := b.rstring()
		if err != nil {
			return nil, err
		}
		return MessageTauth{Afid: Fid(afid), Uname: uname, Aname: aname}, nil
	case Rauth:
		qid, err := b.rqid()
		if err != nil {
			return nil, err
		}
		return MessageRauth{Qid: qid}, nil
	case Tattach:
		fid, err := b.ru32()
		if err != nil {
			return nil, err
		}
		afid, err := b.ru32()
		if err != nil {
			return nil, err
		}
		uname, err := b.rstring()
		if err != nil {
			return nil, err
		}
		aname, err := b.rstring()
		if err != nil {
			return nil, err
		}
		return MessageTattach{
			Fid:   Fid(fid),
			Afid:  Fid(afid),
			Uname: uname,
			Aname: aname,
		}, nil
	case Rattach:
		qid, err := b.rqid()
		if err != nil {
			return nil, err
		}
		return MessageRattach{Qid: qid}, nil
	case Rerror:
		ename, err := b.rstring()
		if err != nil {
			return nil, err
		}
		return MessageRerror{Ename: ename}, nil
	case Tflush:
		oldtag, err := b.ru16()
		if err != nil {
			return nil, err
		}
		return MessageTflush{Oldtag: Tag(oldtag)}, nil
	case Rflush:
		return MessageRflush{}, nil
	case Twalk:
		fid, err := b.ru32()
		if err != nil {
			return nil, err
		}
		newfid, err := b.ru32()
		if err != nil {
			return nil, err
		}
		n, err := b.ru16()
		if err != nil {
			return nil, err
		}
		if n > MaxWElem {
			return nil, ErrMalformedBody
		}
		var wnames []string
		for i := 0; i < int(n); i++ {
			name, err := b.rstring()
			if err != nil {
				return nil, err
			}
			wnames = append(wnames, name)
		}
		return MessageTwalk{
			Fid:    Fid(fid),
			Newfid: Fid(newfid),
			Wnames: wnames,
		}, nil
	case Rwalk:
		n, err := b.ru16()
		if err != nil {
			return nil, err
		}
		if n > MaxWElem {
			return nil, ErrMalformedBody
		}
		var qids []Qid
		for i := 0; i < int(n); i++ {
			qid, err := b.rqid()
			if err != nil {
				return nil, err
			}
			qids = append(qids, qid)
		}
		return MessageRwalk{Qids: qids}, nil
	case Topen:
		fid, err := b.ru32()
		if err != nil {
			return nil, err
		}
		mode, err := b.ru8()
		if err != nil {
			return nil, err
		}
		return MessageTopen{Fid: Fid(fid), Mode: Flag(mode)}, nil
	case Ropen, Rcreate:
		qid, err := b.rqid()
		if err != nil {
			return nil, err
		}
		iounit, err := b.ru32()
		if err != nil {
			return nil, err
		}
		if t == Ropen {
			return MessageRopen{Qid: qid, IOUnit: iounit}, nil
		}
		return MessageRcreate{Qid: qid, IOUnit: iounit}, nil
	case Tcreate:
		fid, err := b.ru32()
		if err != nil {
			return nil, err
		}
		name, err := b.rstring()
		if err != nil {
			return nil, err
		}
		perm, err := b.ru32()
		if err != nil {
			return nil, err
		}
		mode, err := b.ru8()
		if err != nil {
			return nil, err
		}
		return MessageTcreate{
			Fid:  Fid(fid),
			Name: name,
			Perm: perm,
			Mode: Flag(mode),
		}, nil
	case Tread:
		fid, err := b.ru32()
		if err != nil {
			return nil, err
		}
		offset, err := b.ru64()
		if err != nil {
			return nil, err
		}
		count, err := b.ru32()
		if err != nil {
			return nil, err
		}
		return MessageTread{Fid: Fid(fid), Offset: offset, Count: count}, nil
	case Rread:
		count, err := b.ru32()
		if err != nil {
			return nil, err
		}
		if int(count) != b.len() {
			return nil, ErrMalformedBody
		}
		data, err := b.rbytes(int(count))
		if err != nil {
			return nil, err
		}
		return MessageRread{Data: data}, nil
	case Twrite:
		fid, err := b.ru32()
		if err != nil {
			return nil, err
		}
		offset, err := b.ru64()
		if err != nil {
			return nil, err
		}
		count, err := b.ru32()
		if err != nil {
			return nil, err
		}
		if int(count) != b.len() {
			return nil, ErrMalformedBody
		}
		data, err := b.rbytes(int(count))
		if err != nil {
			return nil, err
		}
		return MessageTwrite{Fid: Fid(fid), Offset: offset, Data: data}, nil
	case Rwrite:
		count, err := b.ru32()
		if err != nil {
			return nil, err
		}
		return MessageRwrite{Count: count}, nil
	case Tclunk, Tremove, Tstat:
		fid, err := b.ru32()
		if err != nil {
			return nil, err
		}
		switch t {
		case Tclunk:
			return MessageTclunk{Fid: Fid(fid)}, nil
		case Tremove:
			return MessageTremove{Fid: Fid(fid)}, nil
		}
		return MessageTstat{Fid: Fid(fid)}, nil
	case Rclunk:
		return MessageRclunk{}, nil
	case Rremove:
		return MessageRremove{}, nil
	case Rstat:
		dir, err := decodeStat(b)
		if err != nil {
			return nil, err
		}
		return MessageRstat{Stat: dir}, nil
	case Twstat:
		fid, err := b.ru32()
		if err != nil {
			return nil, err
		}
		dir, err := decodeStat(b)
		if err != nil {
			return nil, err
		}
		return MessageTwstat{Fid: Fid(fid), Stat: dir}, nil
	case Rwstat:
		return MessageRwstat{}, nil
	default:
		return nil, ErrUnknownType
	}
}

// encodeStat writes nstat[2] followed by the stat blob, whose own
// leading size must come out to nstat-2.
func encodeStat(b *buffer, d Dir) error {
	nstat := statLen(d)
	if nstat > 0xFFFF {
		return ErrStringTooLong
	}
	if err := b.wu16(uint16(nstat)); err != nil {
		return err
	}
	return encodeDir(b, d)
}

// statLen is the size of the stat blob for d, including its own
// leading 2-byte size field.
func statLen(d Dir) int {
	return 2 + 2 + 4 + 13 + 4 + 4 + 4 + 8 +
		2 + len(d.Name) + 2 + len(d.UID) + 2 + len(d.GID) + 2 + len(d.MUID)
}

func encodeDir(b *buffer, d Dir) error {
	inner := statLen(d)
	if err := b.wu16(uint16(inner - 2)); err != nil {
		return err
	}
	if err := b.wu16(d.Type); err != nil {
		return err
	}
	if err := b.wu32(d.Dev); err != nil {
		return err
	}
	if err := b.wqid(d.Qid); err != nil {
		return err
	}
	if err := b.wu32(d.Mode); err != nil {
		return err
	}
	if err := b.wu32(uint32(d.AccessTime.Unix())); err != nil {
		return err
	}
	if err := b.wu32(uint32(d.ModTime.Unix())); err != nil {
		return err
	}
	if err := b.wu64(d.Length); err != nil {
		return err
	}
	for _, s := range []string{d.Name, d.UID, d.GID, d.MUID} {
		if err := b.wstring(s); err != nil {
			return err
		}
	}
	return nil
}

// decodeStat parses nstat[2] stat[nstat]. The blob's inner size field
// must equal nstat-2 and the fields must fill it exactly.
func decodeStat(b *buffer) (Dir, error) {
	nstat, err := b.ru16()
	if err != nil {
		return Dir{}, err
	}
	if int(nstat) > b.len() {
		return Dir{}, ErrMalformedBody
	}
	start := b.r
	dir, err := decodeDir(b, int(nstat))
	if err != nil {
		return Dir{}, err
	}
	if b.r-start != int(nstat) {
		return Dir{}, ErrMalformedBody
	}
	return dir, nil
}

// decodeDir parses one stat blob of total bytes, leading size included.
func decodeDir(b *buffer, total int) (Dir, error) {
	var d Dir

	inner, err := b.ru16()
	if err != nil {
		return d, err
	}
	if int(inner) != total-2 {
		return d, ErrMalformedBody
	}
	if d.Type, err = b.ru16(); err != nil {
		return d, err
	}
	if d.Dev, err = b.ru32(); err != nil {
		return d, err
	}
	if d.Qid, err = b.rqid(); err != nil {
		return d, err
	}
	if d.Mode, err = b.ru32(); err != nil {
		return d, err
	}
	atime, err := b.ru32()
	if err != nil {
		return d, err
	}
	mtime, err := b.ru32()
	if err != nil {
		return d, err
	}
	d.AccessTime = time.Unix(int64(atime), 0).UTC()
	d.ModTime = time.Unix(int64(mtime), 0).UTC()
	if d.Length, err = b.ru64(); err != nil {
		return d, err
	}
	if d.Name, err = b.rstring(); err != nil {
		return d, err
	}
	if d.UID, err = b.rstring(); err != nil {
		return d, err
	}
	if d.GID, err = b.rstring(); err != nil {
		return d, err
	}
	if d.MUID, err = b.rstring(); err != nil {
		return d, err
	}
	return d, nil
}
