// Package conformance is a cooperating mock 9P server for exercising
// the client against malformed and edge-case replies. A line-oriented
// control channel selects the behaviour by name; the next request on
// the data channel then receives the corresponding reply, bytes built
// by hand so they can be wrong in exactly the intended way.
//
// The harness is a test driver. Nothing here belongs in a deployed
// binary, and it allocates freely.
package conformance

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	p9c "github.com/frobnitzem/go-9pc"
)

// ReplyFunc turns the raw request frame (size header included) into
// the reply bytes to send.
type ReplyFunc func(req []byte) ([]byte, error)

type ServerReply struct {
	Fn   ReplyFunc
	Want p9c.FcallType

	// Hangup closes the data channel after the reply, so a client
	// waiting on bytes the size field promised sees a short read.
	Hangup bool
}

// Maps strings written by the client to the control channel to server
// replies. Every behaviour needs an entry in this table.
var ctlcmds = map[string]ServerReply{
	"header_too_short1":    {Fn: HeaderTooShort1, Want: p9c.Tversion, Hangup: true},
	"header_too_short2":    {Fn: HeaderTooShort2, Want: p9c.Tversion},
	"header_too_large":     {Fn: HeaderTooLarge, Want: p9c.Tversion, Hangup: true},
	"header_wrong_type":    {Fn: HeaderWrongType, Want: p9c.Tversion},
	"header_invalid_type":  {Fn: HeaderInvalidType, Want: p9c.Tversion},
	"header_tag_mismatch":  {Fn: HeaderTagMismatch, Want: p9c.Tversion},
	"header_type_mismatch": {Fn: HeaderTypeMismatch, Want: p9c.Tversion},

	"rversion_success":          {Fn: RversionSuccess, Want: p9c.Tversion},
	"rversion_unknown":          {Fn: RversionUnknown, Want: p9c.Tversion},
	"rversion_msize_too_big":    {Fn: RversionMsizeTooBig, Want: p9c.Tversion},
	"rversion_invalid":          {Fn: RversionInvalidVersion, Want: p9c.Tversion},
	"rversion_invalid_len":      {Fn: RversionInvalidLength, Want: p9c.Tversion},
	"rversion_version_too_long": {Fn: RversionVersionTooLong, Want: p9c.Tversion},

	"rattach_success":     {Fn: RattachSuccess, Want: p9c.Tattach},
	"rattach_invalid_len": {Fn: RattachInvalidLength, Want: p9c.Tattach},

	"rstat_success":       {Fn: RstatSuccess, Want: p9c.Tstat},
	"rstat_nstat_invalid": {Fn: RstatNstatInvalid, Want: p9c.Tstat},
}

// Serve handles one client conversation: per control line, read one
// request from data, mangle, reply. It returns when the control
// channel is exhausted or a reply hangs up.
func Serve(ctl io.Reader, data io.ReadWriteCloser) error {
	defer data.Close()

	sc := bufio.NewScanner(ctl)
	for sc.Scan() {
		cmd := strings.TrimSpace(sc.Text())
		if cmd == "" {
			continue
		}
		sr, ok := ctlcmds[cmd]
		if !ok {
			return fmt.Errorf("conformance: unknown command %q", cmd)
		}
		req, err := readFrame(data)
		if err != nil {
			return err
		}
		if got := p9c.FcallType(req[4]); got != sr.Want {
			return fmt.Errorf("conformance: %s wants %v, client sent %v",
				cmd, sr.Want, got)
		}
		reply, err := sr.Fn(req)
		if err != nil {
			return err
		}
		if _, err := data.Write(reply); err != nil {
			return err
		}
		if sr.Hangup {
			return data.Close()
		}
	}
	return sc.Err()
}

// SeedDir is the literal directory entry rstat_success serves.
func SeedDir() p9c.Dir {
	return p9c.Dir{
		Type:       9001,
		Dev:        5,
		Qid:        p9c.Qid{Type: 23, Version: 2342, Path: 1337},
		Mode:       p9c.DMDIR,
		AccessTime: time.Unix(1494443596, 0).UTC(),
		ModTime:    time.Unix(1494443609, 0).UTC(),
		Length:     2342,
		Name:       "testfile",
		UID:        "testuser",
		GID:        "testgroup",
		MUID:       "ken",
	}
}

// Replies with a single byte. This is thus even shorter than the
// four-byte length field and cannot frame at all.
func HeaderTooShort1(req []byte) ([]byte, error) {
	return []byte{0}, nil
}

// Replies with a four-byte size field whose value is too small to make
// the message a valid 9p message.
func HeaderTooShort2(req []byte) ([]byte, error) {
	var b bytes.Buffer
	p32(&b, 6)
	return b.Bytes(), nil
}

// Replies with a size field larger than the bytes actually sent.
func HeaderTooLarge(req []byte) ([]byte, error) {
	var b bytes.Buffer
	p32(&b, 42)
	return b.Bytes(), nil
}

// Replies with a well-formed message carrying a T-message type field.
func HeaderWrongType(req []byte) ([]byte, error) {
	msize, version, tag := unVersion(req)

	b := newPkt(p9c.Tversion, tag)
	p32(b, msize)
	pstr(b, version)
	return patchSize(b), nil
}

// Replies with a type value outside the defined enumeration.
func HeaderInvalidType(req []byte) ([]byte, error) {
	b := newPkt(p9c.FcallType(255), tagOf(req))
	p32(b, 0)
	return patchSize(b), nil
}

// Replies with a parseable message whose tag does not match the
// request.
func HeaderTagMismatch(req []byte) ([]byte, error) {
	msize, version, tag := unVersion(req)

	b := newPkt(p9c.Rversion, tag+1)
	p32(b, msize)
	pstr(b, version)
	return patchSize(b), nil
}

// Replies with a message that is valid but of the wrong R-type for the
// outstanding request.
func HeaderTypeMismatch(req []byte) ([]byte, error) {
	b := newPkt(p9c.Rflush, tagOf(req))
	return patchSize(b), nil
}

// Replies with the msize and version sent by the client. This should
// always be parsed successfully.
func RversionSuccess(req []byte) ([]byte, error) {
	msize, version, tag := unVersion(req)

	b := newPkt(p9c.Rversion, tag)
	p32(b, msize)
	pstr(b, version)
	return patchSize(b), nil
}

// Replies with the version string "unknown".
//
// From version(5):
//
//	If the server does not understand the client's version
//	string, it should respond with an Rversion message (not
//	Rerror) with the version string the 7 characters
//	``unknown''.
func RversionUnknown(req []byte) ([]byte, error) {
	msize, _, tag := unVersion(req)

	b := newPkt(p9c.Rversion, tag)
	p32(b, msize)
	pstr(b, "unknown")
	return patchSize(b), nil
}

// Replies with an msize one larger than the client offered.
//
// From version(5):
//
//	The server responds with its own maximum, msize, which must
//	be less than or equal to the client's value.
func RversionMsizeTooBig(req []byte) ([]byte, error) {
	msize, version, tag := unVersion(req)

	b := newPkt(p9c.Rversion, tag)
	p32(b, msize+1)
	pstr(b, version)
	return patchSize(b), nil
}

// Replies with a version string that is not a 9P revision at all.
func RversionInvalidVersion(req []byte) ([]byte, error) {
	msize, _, tag := unVersion(req)

	b := newPkt(p9c.Rversion, tag)
	p32(b, msize)
	pstr(b, "9P20009P2000")
	return patchSize(b), nil
}

// Replies with a size field one byte short, so the version string's
// length prefix promises more bytes than the message body holds.
func RversionInvalidLength(req []byte) ([]byte, error) {
	reply, err := RversionSuccess(req)
	if err != nil {
		return nil, err
	}
	return shrinkSize(reply), nil
}

// Replies with a version string one byte longer than the longest valid
// one, `unknown`. A client with a static version buffer may reject it
// on length; this client parses it and refuses the version itself.
func RversionVersionTooLong(req []byte) ([]byte, error) {
	msize, _, tag := unVersion(req)

	b := newPkt(p9c.Rversion, tag)
	p32(b, msize)
	pstr(b, "12345678")
	return patchSize(b), nil
}

// Successfully attaches the client, replying with a valid qid.
func RattachSuccess(req []byte) ([]byte, error) {
	b := newPkt(p9c.Rattach, tagOf(req))
	pqid(b, p9c.Qid{})
	return patchSize(b), nil
}

// Replies with the size field one byte short, leaving the qid
// incomplete within the declared body.
func RattachInvalidLength(req []byte) ([]byte, error) {
	reply, err := RattachSuccess(req)
	if err != nil {
		return nil, err
	}
	return shrinkSize(reply), nil
}

// Replies with a valid Rstat carrying the seed directory entry.
func RstatSuccess(req []byte) ([]byte, error) {
	blob := marshalDir(SeedDir())

	b := newPkt(p9c.Rstat, tagOf(req))
	p16(b, uint16(len(blob)))
	b.Write(blob)
	return patchSize(b), nil
}

// Replies with a stat message whose two-byte nstat field claims far
// more bytes than the body carries.
func RstatNstatInvalid(req []byte) ([]byte, error) {
	blob := marshalDir(p9c.Dir{})

	b := newPkt(p9c.Rstat, tagOf(req))
	p16(b, 1337)
	b.Write(blob)
	return patchSize(b), nil
}

// readFrame pulls one size-prefixed frame off the data channel.
func readFrame(data io.Reader) ([]byte, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(data, hdr); err != nil {
		return nil, err
	}
	size := int(g32(hdr, 0))
	if size < 7 || size > 1<<16 {
		return nil, fmt.Errorf("conformance: request size %d out of range", size)
	}
	frame := make([]byte, size)
	copy(frame, hdr)
	if _, err := io.ReadFull(data, frame[4:]); err != nil {
		return nil, err
	}
	return frame, nil
}

func newPkt(t p9c.FcallType, tag uint16) *bytes.Buffer {
	var b bytes.Buffer
	p32(&b, 0) // size, patched last
	b.WriteByte(uint8(t))
	p16(&b, tag)
	return &b
}

func patchSize(b *bytes.Buffer) []byte {
	p := b.Bytes()
	l := uint32(len(p))
	p[0], p[1], p[2], p[3] = byte(l), byte(l>>8), byte(l>>16), byte(l>>24)
	return p
}

// shrinkSize knocks one byte off an already-patched size field.
func shrinkSize(p []byte) []byte {
	l := g32(p, 0) - 1
	p[0], p[1], p[2], p[3] = byte(l), byte(l>>8), byte(l>>16), byte(l>>24)
	return p
}

func p16(b *bytes.Buffer, v uint16) {
	b.Write([]byte{byte(v), byte(v >> 8)})
}

func p32(b *bytes.Buffer, v uint32) {
	b.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func p64(b *bytes.Buffer, v uint64) {
	p32(b, uint32(v))
	p32(b, uint32(v>>32))
}

func pstr(b *bytes.Buffer, s string) {
	p16(b, uint16(len(s)))
	b.WriteString(s)
}

func pqid(b *bytes.Buffer, q p9c.Qid) {
	b.WriteByte(uint8(q.Type))
	p32(b, q.Version)
	p64(b, q.Path)
}

// marshalDir packs a stat blob, leading inner size field included.
func marshalDir(d p9c.Dir) []byte {
	var body bytes.Buffer
	p16(&body, d.Type)
	p32(&body, d.Dev)
	pqid(&body, d.Qid)
	p32(&body, d.Mode)
	p32(&body, uint32(d.AccessTime.Unix()))
	p32(&body, uint32(d.ModTime.Unix()))
	p64(&body, d.Length)
	pstr(&body, d.Name)
	pstr(&body, d.UID)
	pstr(&body, d.GID)
	pstr(&body, d.MUID)

	var b bytes.Buffer
	p16(&b, uint16(body.Len()))
	b.Write(body.Bytes())
	return b.Bytes()
}

func g16(p []byte, off int) uint16 {
	return uint16(p[off]) | uint16(p[off+1])<<8
}

func g32(p []byte, off int) uint32 {
	return uint32(p[off]) | uint32(p[off+1])<<8 |
		uint32(p[off+2])<<16 | uint32(p[off+3])<<24
}

func tagOf(p []byte) uint16 {
	return g16(p, 5)
}

// unVersion picks the fields of a Tversion request out of its frame.
func unVersion(p []byte) (msize uint32, version string, tag uint16) {
	tag = tagOf(p)
	msize = g32(p, 7)
	n := int(g16(p, 11))
	version = string(p[13 : 13+n])
	return
}
