package p9c

import (
	"context"
	"strings"
)

// FileSys is a file-oriented view over a Session. The client uniquely
// owns the returned Dirents and Files; the session engine owns the
// fids behind them.
type FileSys interface {
	Auth(ctx context.Context, uname, aname string) (AuthFile, error)
	Attach(ctx context.Context, uname, aname string, af AuthFile) (Dirent, error)
}

// Simplified interface to a file that has been Open-ed.
type File interface {
	Read(ctx context.Context, p []byte, offset int64) (int, error)
	Write(ctx context.Context, p []byte, offset int64) (int, error)

	// IOUnit is always >0 on the client side.
	IOUnit() int
	Close(ctx context.Context) error
}

type AuthFile interface {
	File           // For read/write in auth protocols.
	Success() bool // Was the authentication successful?
}

// Dirent is a position in the server's file tree.
type Dirent interface {
	Qid() Qid

	// Walk is guaranteed not to see '.' or paths containing '/'.
	Walk(ctx context.Context, names ...string) ([]Qid, Dirent, error)

	// Clone duplicates this dirent. Generated from a Walk with no
	// arguments.
	Clone(ctx context.Context) (Dirent, error)

	// Entries is only useful if IsDir().
	Entries(ctx context.Context) ([]Dir, error)

	Open(ctx context.Context, mode Flag) (File, error)
	Create(ctx context.Context, name string, perm uint32, mode Flag) (Dirent, File, error)

	Stat(ctx context.Context) (Dir, error)
	WStat(ctx context.Context, stat Dir) error

	// Clunk and Remove retire the dirent; it must not be used after
	// either, even on error.
	Clunk(ctx context.Context) error
	Remove(ctx context.Context) error
}

// Helper function to check Dirent.Qid().Type for the QTDIR bit.
func IsDir(d Dirent) bool {
	return d.Qid().Type&QTDIR != 0
}

// State of a filesystem as seen from the client side.
type fsState struct {
	session Session
}

func CFileSys(session Session) FileSys {
	return &fsState{session: session}
}

// AuthFile over the session's afid.
type aFile struct {
	session Session
	afid    Fid
}

var noAuth = aFile{session: nil, afid: NOFID}

// Cannot be programmatically determined from the client side.
func (af aFile) Success() bool {
	return false
}
func (af aFile) Close(ctx context.Context) error {
	return af.session.Clunk(ctx, af.afid)
}
func (af aFile) Read(ctx context.Context, p []byte, offset int64) (int, error) {
	return af.session.Read(ctx, af.afid, p, offset)
}
func (af aFile) Write(ctx context.Context, p []byte, offset int64) (int, error) {
	return af.session.Write(ctx, af.afid, p, offset)
}
func (af aFile) IOUnit() int {
	msize, _ := af.session.Version()
	return msize - IOHDRSZ
}

func (fs *fsState) Auth(ctx context.Context, uname, aname string) (AuthFile, error) {
	afid, _, err := fs.session.Auth(ctx, uname, aname)
	if err != nil {
		return noAuth, err
	}
	return aFile{session: fs.session, afid: afid}, nil
}

// Initializes a session by sending an Attach,
// and storing all the relevant session data.
func (fs *fsState) Attach(ctx context.Context, uname, aname string,
	af AuthFile) (Dirent, error) {
	aFid := NOFID
	if af != nil {
		af1, ok := af.(aFile)
		if !ok {
			return noEnt, ErrUnknownFid
		}
		aFid = af1.afid
	}

	rootFid, qid, err := fs.session.Attach(ctx, uname, aname, aFid)
	if err != nil {
		return noEnt, err
	}

	return cEnt{
		path: make([]string, 0),
		fid:  rootFid,
		qid:  qid,
		fs:   fs,
	}, nil
}

type cEnt struct {
	path []string // absolute path
	fid  Fid
	qid  Qid
	fs   *fsState
}

var noEnt = cEnt{nil, NOFID, Qid{}, nil}

type fileRef struct {
	cEnt
	iounit int
}

var noFile = fileRef{noEnt, 0}

func (ent cEnt) Qid() Qid {
	return ent.qid
}

func (ent cEnt) Walk(ctx context.Context,
	names ...string) ([]Qid, Dirent, error) {
	steps, bsp := NormalizePath(names)
	if bsp < 0 || bsp > len(ent.path) {
		return nil, noEnt, MessageRerror{"invalid path: " + strings.Join(names, "/")}
	}

	newfid, qids, err := ent.fs.session.Walk(ctx, ent.fid, steps...)
	if err != nil {
		return qids, noEnt, err
	}

	next := cEnt{fid: newfid, fs: ent.fs}
	// drop part of ent.path
	steps = steps[:len(qids)]
	remain := len(ent.path) - bsp
	next.path = append(ent.path[:remain:remain], steps[bsp:]...)
	if len(qids) > 0 {
		next.qid = qids[len(qids)-1]
	} else {
		next.qid = ent.qid
	}

	return qids, next, nil
}

func (ent cEnt) Clone(ctx context.Context) (Dirent, error) {
	_, next, err := ent.Walk(ctx)
	return next, err
}

// Note: This always returns a file with a nonzero IOUnit.
func (ent cEnt) Open(ctx context.Context, mode Flag) (File, error) {
	_, iounit, err := ent.fs.session.Open(ctx, ent.fid, mode)
	if err != nil {
		return noFile, err
	}
	return fileRef{ent, int(iounit)}, nil
}

func (ent cEnt) Create(ctx context.Context, name string,
	perm uint32, mode Flag) (Dirent, File, error) {
	if _, err := CreateName(strings.Join(ent.path, "/"), name); err != nil {
		return noEnt, noFile, err
	}
	if !IsDir(ent) {
		return noEnt, noFile, MessageRerror{"create in non-directory"}
	}
	qid, iounit, err := ent.fs.session.Create(ctx, ent.fid, name, perm, mode)
	if err != nil {
		return noEnt, noFile, err
	}
	ent.path = append(ent.path, name)
	ent.qid = qid

	return ent, fileRef{ent, int(iounit)}, nil
}

// Entries reads the whole directory through a cloned fid, so ent
// itself stays walkable.
func (ent cEnt) Entries(ctx context.Context) ([]Dir, error) {
	if !IsDir(ent) {
		return nil, MessageRerror{"not a directory"}
	}
	clone, err := ent.Clone(ctx)
	if err != nil {
		return nil, err
	}
	rd, ok := clone.(cEnt)
	if !ok {
		return nil, ErrUnknownFid
	}
	defer clone.Clunk(ctx)

	if _, _, err := ent.fs.session.Open(ctx, rd.fid, OREAD); err != nil {
		return nil, err
	}
	return ReaddirAll(ctx, ent.fs.session, rd.fid)
}

func (ent cEnt) Stat(ctx context.Context) (Dir, error) {
	return ent.fs.session.Stat(ctx, ent.fid)
}
func (ent cEnt) WStat(ctx context.Context, stat Dir) error {
	return ent.fs.session.WStat(ctx, ent.fid, stat)
}
func (ent cEnt) Clunk(ctx context.Context) error {
	return ent.fs.session.Clunk(ctx, ent.fid)
}
func (ent cEnt) Remove(ctx context.Context) error {
	return ent.fs.session.Remove(ctx, ent.fid)
}

func (f fileRef) Read(ctx context.Context, p []byte, offset int64) (int, error) {
	return f.fs.session.Read(ctx, f.fid, p, offset)
}
func (f fileRef) Write(ctx context.Context, p []byte, offset int64) (int, error) {
	return f.fs.session.Write(ctx, f.fid, p, offset)
}
func (f fileRef) IOUnit() int {
	return f.iounit
}
func (f fileRef) Close(ctx context.Context) error {
	return nil
}
