package conformance

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/net/context"

	p9c "github.com/frobnitzem/go-9pc"
)

// harness wires a client-side data conn and a control pipe to one
// Serve goroutine.
type harness struct {
	ctl  *io.PipeWriter
	data net.Conn
	done chan error
}

func start(t *testing.T) *harness {
	ctlR, ctlW := io.Pipe()
	dataC, dataS := net.Pipe()

	h := &harness{ctl: ctlW, data: dataC, done: make(chan error, 1)}
	go func() {
		h.done <- Serve(ctlR, dataS)
	}()
	t.Cleanup(func() {
		ctlW.Close()
		dataC.Close()
	})
	return h
}

// prime queues commands on the control channel. A single write keeps
// the scanner from blocking between lines.
func (h *harness) prime(t *testing.T, cmds string) {
	go func() {
		if _, err := io.WriteString(h.ctl, cmds+"\n"); err != nil {
			t.Error(err)
		}
	}()
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// dial runs the version handshake against the primed server.
func (h *harness) dial(t *testing.T) (p9c.Session, error) {
	return p9c.NewSession(testCtx(t), h.data)
}

// attached primes extra commands beyond version+attach and returns an
// attached session with its root fid.
func attached(t *testing.T, extra string) (p9c.Session, p9c.Fid) {
	cmds := "rversion_success\nrattach_success"
	if extra != "" {
		cmds += "\n" + extra
	}
	h := start(t)
	h.prime(t, cmds)

	session, err := h.dial(t)
	if err != nil {
		t.Fatal(err)
	}
	fid, _, err := session.Attach(testCtx(t), "testuser", "/", p9c.NOFID)
	if err != nil {
		t.Fatal(err)
	}
	return session, fid
}

func TestHeaderTooShort1(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "header_too_short1")

	_, err := h.dial(t)
	assert.Equal(p9c.ErrTruncated, err)
}

func TestHeaderTooShort2(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "header_too_short2")

	_, err := h.dial(t)
	assert.Equal(p9c.ErrShortHeader, err)
}

func TestHeaderTooLarge(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "header_too_large")

	_, err := h.dial(t)
	assert.Equal(p9c.ErrTruncated, err)
}

func TestHeaderWrongType(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "header_wrong_type")

	_, err := h.dial(t)
	assert.Equal(p9c.ErrProtocolViolation, err)
}

func TestHeaderInvalidType(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "header_invalid_type")

	_, err := h.dial(t)
	assert.Equal(p9c.ErrUnknownType, err)
}

func TestHeaderTagMismatch(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "header_tag_mismatch")

	_, err := h.dial(t)
	assert.Equal(p9c.ErrTagMismatch, err)
}

func TestHeaderTypeMismatch(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "header_type_mismatch")

	_, err := h.dial(t)
	assert.Equal(p9c.ErrProtocolViolation, err)
}

func TestRversionSuccess(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "rversion_success")

	session, err := h.dial(t)
	assert.Nil(err)
	msize, version := session.Version()
	assert.Equal(8192, msize)
	assert.Equal("9P2000", version)
}

func TestRversionUnknown(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "rversion_unknown")

	_, err := h.dial(t)
	assert.Equal(p9c.ErrVersionUnsupported, err)
}

func TestRversionMsizeTooBig(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "rversion_msize_too_big")

	_, err := h.dial(t)
	assert.Equal(p9c.ErrProtocolViolation, err)
}

func TestRversionInvalid(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "rversion_invalid")

	_, err := h.dial(t)
	assert.Equal(p9c.ErrVersionUnsupported, err)
}

func TestRversionInvalidLength(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "rversion_invalid_len")

	// The shortened body leaves the string prefix promising one byte
	// more than remains.
	_, err := h.dial(t)
	assert.Equal(p9c.ErrStringTooLong, err)
}

func TestRversionVersionTooLong(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "rversion_version_too_long")

	// There is no static bound on the reply string in this client;
	// the overlong version parses and fails the revision comparison.
	_, err := h.dial(t)
	assert.Equal(p9c.ErrVersionUnsupported, err)
}

func TestRattachSuccess(t *testing.T) {
	assert := assert.New(t)

	session, fid := attached(t, "")
	assert.NotEqual(p9c.NOFID, fid)
	_, version := session.Version()
	assert.Equal("9P2000", version)
}

func TestRattachInvalidLength(t *testing.T) {
	assert := assert.New(t)
	h := start(t)
	h.prime(t, "rversion_success\nrattach_invalid_len")

	session, err := h.dial(t)
	assert.Nil(err)

	_, _, err = session.Attach(testCtx(t), "testuser", "/", p9c.NOFID)
	assert.Equal(p9c.ErrMalformedBody, err)

	// The framing failure closed the session.
	_, _, err = session.Attach(testCtx(t), "testuser", "/", p9c.NOFID)
	assert.Equal(p9c.ErrClosed, err)
}

func TestRstatSuccess(t *testing.T) {
	assert := assert.New(t)

	session, fid := attached(t, "rstat_success")
	dir, err := session.Stat(testCtx(t), fid)
	assert.Nil(err)
	assert.Equal(SeedDir(), dir)
}

func TestRstatNstatInvalid(t *testing.T) {
	assert := assert.New(t)

	session, fid := attached(t, "rstat_nstat_invalid")
	_, err := session.Stat(testCtx(t), fid)
	assert.Equal(p9c.ErrMalformedBody, err)

	_, err = session.Stat(testCtx(t), fid)
	assert.Equal(p9c.ErrClosed, err)
}
