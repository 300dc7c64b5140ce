package p9c

import (
	"context"
	"io"
)

// Session is the client side of one 9P2000 conversation. It owns the
// tag and fid tables, the send and receive buffers, and the phase of
// the exchange; callers hold fids as plain values and serialize calls
// themselves. Exactly one request is outstanding at a time, so the
// next frame on the wire is always the answer to the last question.
type Session interface {
	// Version reports the negotiated msize and protocol revision.
	Version() (msize int, version string)

	// Auth opens the authentication file for uname on aname. The
	// returned fid may be handed to Attach once the protocol carried
	// by the auth file has run.
	Auth(ctx context.Context, uname, aname string) (Fid, Qid, error)

	// Attach establishes the root of the file tree. afid is NOFID
	// when the server requires no auth.
	Attach(ctx context.Context, uname, aname string, afid Fid) (Fid, Qid, error)

	// Walk moves a fresh fid down names (at most MaxWElem of them)
	// starting from fid. With no names the fid is simply cloned. A
	// walk the server cut short returns the qids it did traverse
	// alongside ErrWalkPartial, and no new fid exists anywhere.
	Walk(ctx context.Context, fid Fid, names ...string) (Fid, []Qid, error)

	// Open prepares fid for I/O. The returned iounit bounds a single
	// read or write and is never zero.
	Open(ctx context.Context, fid Fid, mode Flag) (Qid, uint32, error)

	// Create makes name under the directory fid and opens it; fid
	// then represents the new file.
	Create(ctx context.Context, fid Fid, name string, perm uint32, mode Flag) (Qid, uint32, error)

	// Read fills p from fid at offset, clipped to the fid's iounit.
	// io.EOF reports end of file.
	Read(ctx context.Context, fid Fid, p []byte, offset int64) (int, error)

	// Write sends p to fid at offset, clipped to the fid's iounit.
	// Fewer bytes than len(p) may be written; the caller loops.
	Write(ctx context.Context, fid Fid, p []byte, offset int64) (int, error)

	Stat(ctx context.Context, fid Fid) (Dir, error)
	WStat(ctx context.Context, fid Fid, dir Dir) error

	// Clunk and Remove retire fid. The fid is gone even when the
	// server answers with an error; only the error itself survives.
	Clunk(ctx context.Context, fid Fid) error
	Remove(ctx context.Context, fid Fid) error

	// Flush asks the server to forget the request behind oldtag.
	Flush(ctx context.Context, oldtag Tag) error

	// Stop closes the session and its transport.
	Stop(err error) error
}

type phase int

const (
	phUnversioned phase = iota
	phVersioned
	phAttached
	phClosed
)

type session struct {
	conn    io.ReadWriteCloser
	ch      Channel
	tags    tagPool
	fids    fidPool
	msize   int
	version string
	phase   phase
	rootfid Fid
}

var _ Session = &session{}

// NewSession negotiates 9P2000 over conn and returns the versioned
// session. The transport is closed if negotiation fails.
func NewSession(ctx context.Context, conn io.ReadWriteCloser) (Session, error) {
	return newSession(ctx, conn, DefaultMSize)
}

func newSession(ctx context.Context, conn io.ReadWriteCloser, msize int) (*session, error) {
	s := &session{
		conn:    conn,
		ch:      NewChannel(conn, msize),
		msize:   msize,
		rootfid: NOFID,
	}
	if err := s.handshake(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// fail closes the session. Idempotent, and always hands err back so
// call sites read as one-liners.
func (s *session) fail(err error) error {
	if s.phase != phClosed {
		s.phase = phClosed
		s.conn.Close()
	}
	return err
}

// handshake drives Tversion/Rversion under NOTAG and installs the
// negotiated msize. Everything about this exchange is fatal: a server
// that cannot version cannot do anything else either.
func (s *session) handshake(ctx context.Context) error {
	req := MessageTversion{MSize: uint32(s.msize), Version: Version}
	if err := s.ch.WriteFcall(ctx, newFcall(NOTAG, req)); err != nil {
		return s.fail(err)
	}

	var fcall Fcall
	if err := s.ch.ReadFcall(ctx, &fcall); err != nil {
		return s.fail(err)
	}
	if fcall.Tag != NOTAG {
		return s.fail(ErrTagMismatch)
	}
	switch msg := fcall.Message.(type) {
	case MessageRversion:
		if msg.Version != Version {
			// "unknown" is the server's polite refusal; any other
			// string is a revision we do not speak. There is no
			// fixed bound on the reply string here, only the body
			// length, so an overlong version fails this comparison
			// rather than a buffer check.
			return s.fail(ErrVersionUnsupported)
		}
		if int(msg.MSize) > s.msize || msg.MSize < MinMSize {
			return s.fail(ErrProtocolViolation)
		}
		s.msize = int(msg.MSize)
		s.ch.SetMSize(s.msize)
		s.version = msg.Version
		s.phase = phVersioned
		return nil
	case MessageRerror:
		// version(5) forbids answering Tversion with Rerror, but a
		// server that does still told us why.
		return s.fail(msg)
	default:
		return s.fail(ErrProtocolViolation)
	}
}

func (s *session) Version() (int, string) {
	return s.msize, s.version
}

// transact sends one T-message and reads back the one frame that must
// answer it, validating tag and type. A server error comes back as
// MessageRerror without closing the session; every framing or
// correlation failure closes it.
func (s *session) transact(ctx context.Context, req Message) (Message, error) {
	if s.phase == phClosed {
		return nil, ErrClosed
	}

	tag, err := s.tags.acquire()
	if err != nil {
		return nil, err
	}
	defer s.tags.release(tag)

	if err := s.ch.WriteFcall(ctx, newFcall(tag, req)); err != nil {
		return nil, s.fail(err)
	}

	var fcall Fcall
	if err := s.ch.ReadFcall(ctx, &fcall); err != nil {
		return nil, s.fail(err)
	}
	if fcall.Tag != tag {
		return nil, s.fail(ErrTagMismatch)
	}
	if rerr, ok := fcall.Message.(MessageRerror); ok {
		return nil, rerr
	}
	if fcall.Type != req.Type().response() {
		return nil, s.fail(ErrProtocolViolation)
	}
	return fcall.Message, nil
}

func (s *session) Auth(ctx context.Context, uname, aname string) (Fid, Qid, error) {
	ent, err := s.fids.acquire()
	if err != nil {
		return NOFID, Qid{}, err
	}
	resp, err := s.transact(ctx, MessageTauth{
		Afid:  ent.fid,
		Uname: uname,
		Aname: aname,
	})
	if err != nil {
		s.fids.release(ent.fid)
		return NOFID, Qid{}, err
	}
	ra := resp.(MessageRauth)
	ent.qid = ra.Qid
	return ent.fid, ra.Qid, nil
}

func (s *session) Attach(ctx context.Context, uname, aname string, afid Fid) (Fid, Qid, error) {
	if s.phase == phClosed {
		return NOFID, Qid{}, ErrClosed
	}
	if afid != NOFID {
		if _, err := s.fids.lookup(afid); err != nil {
			return NOFID, Qid{}, err
		}
	}
	ent, err := s.fids.acquire()
	if err != nil {
		return NOFID, Qid{}, err
	}
	resp, err := s.transact(ctx, MessageTattach{
		Fid:   ent.fid,
		Afid:  afid,
		Uname: uname,
		Aname: aname,
	})
	if err != nil {
		s.fids.release(ent.fid)
		// A tree we cannot attach to is a session we cannot use.
		return NOFID, Qid{}, s.fail(err)
	}
	ra := resp.(MessageRattach)
	ent.qid = ra.Qid
	if s.phase == phVersioned {
		s.phase = phAttached
		s.rootfid = ent.fid
	}
	return ent.fid, ra.Qid, nil
}

func (s *session) Walk(ctx context.Context, fid Fid, names ...string) (Fid, []Qid, error) {
	if len(names) > MaxWElem {
		return NOFID, nil, ErrWalkLimit
	}
	src, err := s.fids.lookup(fid)
	if err != nil {
		return NOFID, nil, err
	}
	ent, err := s.fids.acquire()
	if err != nil {
		return NOFID, nil, err
	}
	resp, err := s.transact(ctx, MessageTwalk{
		Fid:    fid,
		Newfid: ent.fid,
		Wnames: names,
	})
	if err != nil {
		s.fids.release(ent.fid)
		return NOFID, nil, err
	}
	rw := resp.(MessageRwalk)
	if len(rw.Qids) > len(names) {
		s.fids.release(ent.fid)
		return NOFID, nil, s.fail(ErrProtocolViolation)
	}
	if len(rw.Qids) < len(names) {
		// The server stopped early, so newfid was never created
		// there; it must not stay live here either.
		s.fids.release(ent.fid)
		return NOFID, rw.Qids, ErrWalkPartial
	}
	if len(rw.Qids) > 0 {
		ent.qid = rw.Qids[len(rw.Qids)-1]
	} else {
		ent.qid = src.qid
	}
	return ent.fid, rw.Qids, nil
}

func (s *session) Open(ctx context.Context, fid Fid, mode Flag) (Qid, uint32, error) {
	ent, err := s.fids.lookup(fid)
	if err != nil {
		return Qid{}, 0, err
	}
	resp, err := s.transact(ctx, MessageTopen{Fid: fid, Mode: mode})
	if err != nil {
		return Qid{}, 0, err
	}
	ro := resp.(MessageRopen)
	ent.opened = true
	ent.iounit = ro.IOUnit
	ent.qid = ro.Qid
	return ro.Qid, ent.effIOUnit(s.msize), nil
}

func (s *session) Create(ctx context.Context, fid Fid, name string, perm uint32, mode Flag) (Qid, uint32, error) {
	ent, err := s.fids.lookup(fid)
	if err != nil {
		return Qid{}, 0, err
	}
	resp, err := s.transact(ctx, MessageTcreate{
		Fid:  fid,
		Name: name,
		Perm: perm,
		Mode: mode,
	})
	if err != nil {
		return Qid{}, 0, err
	}
	rc := resp.(MessageRcreate)
	ent.opened = true
	ent.iounit = rc.IOUnit
	ent.qid = rc.Qid
	return rc.Qid, ent.effIOUnit(s.msize), nil
}

func (s *session) Read(ctx context.Context, fid Fid, p []byte, offset int64) (int, error) {
	ent, err := s.fids.lookup(fid)
	if err != nil {
		return 0, err
	}
	count := uint32(len(p))
	if iou := ent.effIOUnit(s.msize); count > iou {
		count = iou
	}
	resp, err := s.transact(ctx, MessageTread{
		Fid:    fid,
		Offset: uint64(offset),
		Count:  count,
	})
	if err != nil {
		return 0, err
	}
	rr := resp.(MessageRread)
	if uint32(len(rr.Data)) > count {
		return 0, s.fail(ErrProtocolViolation)
	}
	// Copy out before the receive buffer is reused.
	n := copy(p, rr.Data)
	if n == 0 && count > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *session) Write(ctx context.Context, fid Fid, p []byte, offset int64) (int, error) {
	ent, err := s.fids.lookup(fid)
	if err != nil {
		return 0, err
	}
	data := p
	if iou := ent.effIOUnit(s.msize); uint32(len(data)) > iou {
		data = data[:iou]
	}
	resp, err := s.transact(ctx, MessageTwrite{
		Fid:    fid,
		Offset: uint64(offset),
		Data:   data,
	})
	if err != nil {
		return 0, err
	}
	rw := resp.(MessageRwrite)
	if int(rw.Count) > len(data) {
		return 0, s.fail(ErrProtocolViolation)
	}
	return int(rw.Count), nil
}

func (s *session) Stat(ctx context.Context, fid Fid) (Dir, error) {
	if _, err := s.fids.lookup(fid); err != nil {
		return Dir{}, err
	}
	resp, err := s.transact(ctx, MessageTstat{Fid: fid})
	if err != nil {
		return Dir{}, err
	}
	return resp.(MessageRstat).Stat, nil
}

func (s *session) WStat(ctx context.Context, fid Fid, dir Dir) error {
	if _, err := s.fids.lookup(fid); err != nil {
		return err
	}
	_, err := s.transact(ctx, MessageTwstat{Fid: fid, Stat: dir})
	return err
}

func (s *session) Clunk(ctx context.Context, fid Fid) error {
	// A fid that is not live never reaches the server, so clunking
	// twice fails locally.
	if _, err := s.fids.lookup(fid); err != nil {
		return err
	}
	_, err := s.transact(ctx, MessageTclunk{Fid: fid})
	// The fid is invalid on both success and Rerror.
	s.fids.release(fid)
	if fid == s.rootfid {
		return s.fail(err)
	}
	return err
}

func (s *session) Remove(ctx context.Context, fid Fid) error {
	if _, err := s.fids.lookup(fid); err != nil {
		return err
	}
	_, err := s.transact(ctx, MessageTremove{Fid: fid})
	s.fids.release(fid)
	return err
}

func (s *session) Flush(ctx context.Context, oldtag Tag) error {
	_, err := s.transact(ctx, MessageTflush{Oldtag: oldtag})
	return err
}

func (s *session) Stop(err error) error {
	if s.phase == phClosed {
		return ErrClosed
	}
	s.phase = phClosed
	cerr := s.conn.Close()
	if err != nil {
		return err
	}
	return cerr
}
