package p9c

import (
	"context"
	"io"
)

// ReaddirAll reads all the directory entries for the resource fid,
// which must already be open for reading. A directory read returns a
// packed sequence of stat blobs; the server never splits a blob across
// reads, so each chunk parses on its own.
func ReaddirAll(ctx context.Context, session Session, fid Fid) ([]Dir, error) {
	msize, _ := session.Version()
	buf := make([]byte, msize-IOHDRSZ)

	var dirs []Dir
	var offset int64
	for {
		n, err := session.Read(ctx, fid, buf, offset)
		if err == io.EOF || (err == nil && n == 0) {
			return dirs, nil
		}
		if err != nil {
			return dirs, err
		}
		ents, err := parseDirs(buf[:n])
		if err != nil {
			return dirs, err
		}
		dirs = append(dirs, ents...)
		offset += int64(n)
	}
}

// parseDirs decodes the packed stat blobs of one directory read.
func parseDirs(p []byte) ([]Dir, error) {
	b := &buffer{data: p, w: len(p)}

	var dirs []Dir
	for b.len() > 0 {
		if b.len() < 2 {
			return dirs, ErrMalformedBody
		}
		sz := int(b.data[b.r]) | int(b.data[b.r+1])<<8
		if sz+2 > b.len() {
			return dirs, ErrMalformedBody
		}
		d, err := decodeDir(b, sz+2)
		if err != nil {
			return dirs, err
		}
		dirs = append(dirs, d)
	}
	return dirs, nil
}
