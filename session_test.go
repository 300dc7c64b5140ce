package p9c

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/net/context"
)

func TestPipe(t *testing.T) {
	var wg sync.WaitGroup
	assert := assert.New(t)

	req, rep := net.Pipe()
	end := time.Now().Add(time.Second)
	req.SetDeadline(end)
	rep.SetDeadline(end)

	msg := []byte("GET / HTTP/1.0\r\n\r\n")
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, err := req.Write(msg)
		assert.Nil(err)
		assert.Equal(n, len(msg))
	}()
	go func() {
		defer wg.Done()
		ans := make([]byte, 100)
		m, err := rep.Read(ans)
		ans = ans[:m]
		assert.Nil(err)
		assert.Equal(len(msg), m)
		assert.Equal(msg, ans)
	}()
	wg.Wait()
}

type ExpectReply func(inp Message) Message

/** Mimick the server and test the client's
 *  send/recv conversation.
 */
func TestSession(t *testing.T) {
	var wg sync.WaitGroup
	assert := assert.New(t)

	ctx := context.Background()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	reqC, repC := net.Pipe()

	// Note: nanoseconds are not encoded in file times
	theTime := time.Unix(112321, 0).UTC()
	theDir := Dir{AccessTime: theTime,
		ModTime: theTime}
	wg.Add(2)
	go func() {
		defer wg.Done()
		session, err := NewSession(ctx, reqC)
		assert.Nil(err)
		msize, version := session.Version()
		assert.Equal(1024, msize)
		assert.Equal("9P2000", version)

		afid, aqid, err := session.Auth(ctx, "user1", "/")
		assert.Nil(err)
		assert.Equal(QTAUTH, aqid.Type)

		rootfid, rqid, err := session.Attach(ctx, "user1", "/", afid)
		assert.Nil(err)
		assert.Equal(QTDIR, rqid.Type)

		blah, qids, err := session.Walk(ctx, rootfid, "blah")
		assert.Nil(err)
		assert.Len(qids, 1)

		_, iounit, err := session.Create(ctx, blah, "file1", 0644, ORDWR)
		assert.Nil(err)
		// the server reported no iounit, so the session derives one
		assert.Equal(uint32(1024-IOHDRSZ), iounit)

		count, err := session.Write(ctx, blah, []byte("abcd"), 0)
		assert.Nil(err)
		assert.Equal(4, count)

		msg := make([]byte, 100)
		count, err = session.Read(ctx, blah, msg, 1)
		assert.Nil(err)
		assert.Equal(3, count)
		assert.Equal([]byte("bcd"), msg[:3])

		err = session.WStat(ctx, blah, theDir)
		assert.Nil(err)
		dir, err := session.Stat(ctx, blah)
		assert.Nil(err)
		assert.Equal(theDir, dir)

		err = session.Remove(ctx, blah)
		assert.Nil(err)

		// the server stops after "a"; no fid survives
		pfid, qids, err := session.Walk(ctx, rootfid, "a", "b")
		assert.Equal(ErrWalkPartial, err)
		assert.Equal(NOFID, pfid)
		assert.Len(qids, 1)

		// a zero-name walk clones the fid
		clone, qids, err := session.Walk(ctx, rootfid)
		assert.Nil(err)
		assert.Len(qids, 0)
		assert.Equal(rqid, Qid{Type: QTDIR, Version: 0, Path: 0})

		err = session.Clunk(ctx, clone)
		assert.Nil(err)

		// an Rerror fails the request but not the session
		_, _, err = session.Open(ctx, rootfid, OWRITE)
		ename, ok := ServerError(err)
		assert.True(ok)
		assert.Equal("permission denied", ename)

		dir, err = session.Stat(ctx, rootfid)
		assert.Nil(err)
		assert.Equal(theDir, dir)

		assert.Nil(session.Stop(nil))
	}()
	go func() {
		defer wg.Done()
		srv := NewChannel(repC, 1024)
		assert.Equal(1024, srv.MSize())

		var fileFid, cloneFid Fid

		for _, step := range []ExpectReply{
			// version negotiation
			func(inp Message) Message {
				tver, ok := inp.(MessageTversion)
				assert.True(ok)
				assert.True(tver.MSize > 128)
				assert.Equal(tver.Version, "9P2000")

				return MessageRversion{
					Version: "9P2000",
					MSize:   1024,
				}
			},
			// auth
			func(inp Message) Message {
				att, ok := inp.(MessageTauth)
				assert.True(ok)
				assert.Equal("user1", att.Uname)
				assert.Equal("/", att.Aname)

				return MessageRauth{
					Qid: Qid{Type: QTAUTH, Version: 0, Path: 999},
				}
			},
			// attach
			func(inp Message) Message {
				att, ok := inp.(MessageTattach)
				assert.True(ok)
				assert.Equal("user1", att.Uname)
				assert.Equal("/", att.Aname)
				assert.NotEqual(NOFID, att.Afid)

				return MessageRattach{
					Qid: Qid{Type: QTDIR, Version: 0, Path: 0},
				}
			},
			// walk
			func(inp Message) Message {
				msg, ok := inp.(MessageTwalk)
				assert.True(ok)
				assert.Equal([]string{"blah"}, msg.Wnames)
				fileFid = msg.Newfid

				return MessageRwalk{
					Qids: []Qid{{Type: QTDIR, Version: 0, Path: 1}},
				}
			},
			// create
			func(inp Message) Message {
				msg, ok := inp.(MessageTcreate)
				assert.True(ok)
				assert.Equal(fileFid, msg.Fid)
				assert.Equal("file1", msg.Name)
				assert.Equal(uint32(0644), msg.Perm)
				assert.Equal(ORDWR, msg.Mode)

				return MessageRcreate{
					Qid:    Qid{Type: QTFILE, Version: 0, Path: 2},
					IOUnit: 0,
				}
			},
			// write
			func(inp Message) Message {
				msg, ok := inp.(MessageTwrite)
				assert.True(ok)
				assert.Equal(fileFid, msg.Fid)
				assert.Equal(uint64(0), msg.Offset)
				assert.Equal([]byte("abcd"), msg.Data)

				return MessageRwrite{
					Count: 4,
				}
			},
			// read
			func(inp Message) Message {
				msg, ok := inp.(MessageTread)
				assert.True(ok)
				assert.Equal(fileFid, msg.Fid)
				assert.Equal(uint64(1), msg.Offset)
				assert.Equal(uint32(100), msg.Count)

				return MessageRread{
					Data: []byte("bcd"),
				}
			},
			// wstat
			func(inp Message) Message {
				msg, ok := inp.(MessageTwstat)
				assert.True(ok)
				assert.Equal(fileFid, msg.Fid)
				assert.Equal(theDir, msg.Stat)

				return MessageRwstat{}
			},
			// stat
			func(inp Message) Message {
				msg, ok := inp.(MessageTstat)
				assert.True(ok)
				assert.Equal(fileFid, msg.Fid)

				return MessageRstat{
					Stat: theDir,
				}
			},
			// remove
			func(inp Message) Message {
				msg, ok := inp.(MessageTremove)
				assert.True(ok)
				assert.Equal(fileFid, msg.Fid)

				return MessageRremove{}
			},
			// partial walk
			func(inp Message) Message {
				msg, ok := inp.(MessageTwalk)
				assert.True(ok)
				assert.Equal([]string{"a", "b"}, msg.Wnames)

				return MessageRwalk{
					Qids: []Qid{{Type: QTDIR, Version: 0, Path: 3}},
				}
			},
			// clone walk
			func(inp Message) Message {
				msg, ok := inp.(MessageTwalk)
				assert.True(ok)
				assert.Len(msg.Wnames, 0)
				cloneFid = msg.Newfid

				return MessageRwalk{}
			},
			// clunk of the clone
			func(inp Message) Message {
				msg, ok := inp.(MessageTclunk)
				assert.True(ok)
				assert.Equal(cloneFid, msg.Fid)

				return MessageRclunk{}
			},
			// open refused
			func(inp Message) Message {
				_, ok := inp.(MessageTopen)
				assert.True(ok)

				return MessageRerror{Ename: "permission denied"}
			},
			// stat after the error: the session still works
			func(inp Message) Message {
				_, ok := inp.(MessageTstat)
				assert.True(ok)

				return MessageRstat{
					Stat: theDir,
				}
			},
		} {
			inp := new(Fcall)
			assert.Nil(srv.ReadFcall(ctx, inp))
			msg := step(inp.Message)
			out := newFcall(inp.Tag, msg)
			assert.Nil(srv.WriteFcall(ctx, out))
		}
		// end expect-reply loop
	}()
	wg.Wait()
}

// The version exchange enforces the negotiation bounds before any
// other message may flow.
func TestVersionOversizeMSize(t *testing.T) {
	var wg sync.WaitGroup
	assert := assert.New(t)

	ctx := context.Background()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	reqC, repC := net.Pipe()

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := NewSession(ctx, reqC)
		assert.Equal(ErrProtocolViolation, err)
	}()
	go func() {
		defer wg.Done()
		srv := NewChannel(repC, DefaultMSize+8)

		inp := new(Fcall)
		assert.Nil(srv.ReadFcall(ctx, inp))
		tver := inp.Message.(MessageTversion)

		// one more than the client offered
		out := newFcall(inp.Tag, MessageRversion{
			Version: tver.Version,
			MSize:   tver.MSize + 1,
		})
		assert.Nil(srv.WriteFcall(ctx, out))
	}()
	wg.Wait()
}

// Clunking a fid that was already clunked fails locally, without
// contacting the server.
func TestClunkIdempotence(t *testing.T) {
	var wg sync.WaitGroup
	assert := assert.New(t)

	ctx := context.Background()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	reqC, repC := net.Pipe()

	wg.Add(2)
	go func() {
		defer wg.Done()
		session, err := NewSession(ctx, reqC)
		assert.Nil(err)

		rootfid, _, err := session.Attach(ctx, "user1", "/", NOFID)
		assert.Nil(err)

		fid, _, err := session.Walk(ctx, rootfid, "x")
		assert.Nil(err)

		// the server answers the clunk with Rerror; the fid dies anyway
		err = session.Clunk(ctx, fid)
		_, ok := ServerError(err)
		assert.True(ok)

		err = session.Clunk(ctx, fid)
		assert.Equal(ErrUnknownFid, err)

		err = session.Remove(ctx, fid)
		assert.Equal(ErrUnknownFid, err)
	}()
	go func() {
		defer wg.Done()
		srv := NewChannel(repC, DefaultMSize)

		for _, reply := range []Message{
			MessageRversion{Version: "9P2000", MSize: DefaultMSize},
			MessageRattach{Qid: Qid{Type: QTDIR}},
			MessageRwalk{Qids: []Qid{{Type: QTFILE, Path: 7}}},
			MessageRerror{Ename: "fid busy"},
			// no further requests arrive
		} {
			inp := new(Fcall)
			assert.Nil(srv.ReadFcall(ctx, inp))
			assert.Nil(srv.WriteFcall(ctx, newFcall(inp.Tag, reply)))
		}
	}()
	wg.Wait()
}

func TestWalkLimit(t *testing.T) {
	assert := assert.New(t)

	s := &session{phase: phVersioned}
	names := make([]string, MaxWElem+1)
	for i := range names {
		names[i] = "d"
	}
	_, _, err := s.Walk(context.Background(), Fid(0), names...)
	assert.Equal(ErrWalkLimit, err)
}
