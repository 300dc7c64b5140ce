package p9c

import (
	"context"
	"log"
	"os"
)

type logging struct {
	session Session
	logger  log.Logger
}

var _ Session = &logging{}

// Wrap a Session, producing a log message to os.Stdout for every
// operation and its outcome. Not for the hot path.
func NewLogger(prefix string, session Session) Session {
	return &logging{
		session: session,
		logger:  *log.New(os.Stdout, prefix, 0),
	}
}

func (l *logging) Version() (msize int, ver string) {
	msize, ver = l.session.Version()
	l.logger.Printf("Version() -> %v, %v", msize, ver)
	return
}

func (l *logging) Auth(ctx context.Context, uname, aname string) (afid Fid, qid Qid, err error) {
	afid, qid, err = l.session.Auth(ctx, uname, aname)
	l.logger.Printf("Auth(%s, %s) -> (%v, %v, %v)", uname, aname, afid, qid, err)
	return
}

func (l *logging) Attach(ctx context.Context, uname, aname string, afid Fid) (fid Fid, qid Qid, err error) {
	fid, qid, err = l.session.Attach(ctx, uname, aname, afid)
	l.logger.Printf("Attach(%s, %s, %v) -> (%v, %v, %v)", uname, aname, afid, fid, qid, err)
	return
}

func (l *logging) Walk(ctx context.Context, fid Fid, names ...string) (newfid Fid, qids []Qid, err error) {
	newfid, qids, err = l.session.Walk(ctx, fid, names...)
	l.logger.Printf("Walk(%v, %v) -> (%v, %v, %v)", fid, names, newfid, qids, err)
	return
}

func (l *logging) Open(ctx context.Context, fid Fid, mode Flag) (qid Qid, iounit uint32, err error) {
	qid, iounit, err = l.session.Open(ctx, fid, mode)
	l.logger.Printf("Open(%v, %x) -> (%v, %v, %v)", fid, mode, qid, iounit, err)
	return
}

func (l *logging) Create(ctx context.Context, fid Fid, name string, perm uint32, mode Flag) (qid Qid, iounit uint32, err error) {
	qid, iounit, err = l.session.Create(ctx, fid, name, perm, mode)
	l.logger.Printf("Create(%v, %v, %o, %x) -> (%v, %v, %v)", fid, name, perm, mode, qid, iounit, err)
	return
}

func (l *logging) Read(ctx context.Context, fid Fid, p []byte, offset int64) (n int, err error) {
	n, err = l.session.Read(ctx, fid, p, offset)
	l.logger.Printf("Read(%v, [%d], %v) -> (%v, %v)", fid, len(p), offset, n, err)
	return
}

func (l *logging) Write(ctx context.Context, fid Fid, p []byte, offset int64) (n int, err error) {
	n, err = l.session.Write(ctx, fid, p, offset)
	l.logger.Printf("Write(%v, [%d], %v) -> (%v, %v)", fid, len(p), offset, n, err)
	return
}

func (l *logging) Stat(ctx context.Context, fid Fid) (dir Dir, err error) {
	dir, err = l.session.Stat(ctx, fid)
	l.logger.Printf("Stat(%v) -> (%v, %v)", fid, dir, err)
	return
}

func (l *logging) WStat(ctx context.Context, fid Fid, dir Dir) (err error) {
	err = l.session.WStat(ctx, fid, dir)
	l.logger.Printf("WStat(%v, %v) -> %v", fid, dir, err)
	return
}

func (l *logging) Clunk(ctx context.Context, fid Fid) (err error) {
	err = l.session.Clunk(ctx, fid)
	l.logger.Printf("Clunk(%v) -> %v", fid, err)
	return
}

func (l *logging) Remove(ctx context.Context, fid Fid) (err error) {
	err = l.session.Remove(ctx, fid)
	l.logger.Printf("Remove(%v) -> %v", fid, err)
	return
}

func (l *logging) Flush(ctx context.Context, oldtag Tag) (err error) {
	err = l.session.Flush(ctx, oldtag)
	l.logger.Printf("Flush(%v) -> %v", oldtag, err)
	return
}

func (l *logging) Stop(err error) (err2 error) {
	err2 = l.session.Stop(err)
	l.logger.Printf("Stop(%v) -> %v", err, err2)
	return
}
