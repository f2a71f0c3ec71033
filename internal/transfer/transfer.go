// Package transfer implements the three shapes of data a data connection
// ever moves, per spec.md §4.D/§4.G: a file read out to the client (RETR),
// a file written from the client (STOR/APPE), and an in-memory listing
// (LIST/NLST). Each is a Mode that copies bytes to or from an already
// connected data socket.
package transfer

import (
	"bytes"
	"io"
	"sync"
)

// bufferPool reduces allocations across transfers, exactly as the source
// server pools its copy buffers.
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 32*1024)
		return &buf
	},
}

func copyPooled(dst io.Writer, src io.Reader) (int64, error) {
	pbuf := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(pbuf)
	return io.CopyBuffer(dst, src, *pbuf)
}

// Mode runs one data-connection transfer to completion over conn,
// returning the number of bytes moved.
type Mode interface {
	Run(conn io.ReadWriteCloser) (int64, error)
}

// Download sends File's contents out over the data connection, for RETR.
type Download struct {
	File io.Reader
}

func (d Download) Run(conn io.ReadWriteCloser) (int64, error) {
	return copyPooled(conn, d.File)
}

// Upload receives the data connection's contents into File, for STOR and
// APPE.
type Upload struct {
	File io.Writer
}

func (u Upload) Run(conn io.ReadWriteCloser) (int64, error) {
	return copyPooled(u.File, conn)
}

// FixedBuffer sends a pre-rendered in-memory payload, for LIST/NLST where
// the listing is built before the data connection ever opens.
type FixedBuffer struct {
	Data []byte
}

func (f FixedBuffer) Run(conn io.ReadWriteCloser) (int64, error) {
	return copyPooled(conn, bytes.NewReader(f.Data))
}
