package fs

import (
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// PipeCapacity is the default pipe buffer size on Linux.
const PipeCapacity = 65536

// PipeDev is the device number reported for pipes.
const PipeDev = 0xc

type pipeBuffer struct {
	ino  uint64
	data []byte

	readerClosed bool
	writerClosed bool

	reader *PipeEnd
	writer *PipeEnd
}

// A PipeEnd is one side of a pipe.
type PipeEnd struct {
	buf   *pipeBuffer
	write bool
	ps    syscallabi.Pollers
}

// NewPipe returns the read and write ends of an empty pipe.
func NewPipe(ino uint64) (r, w *PipeEnd) {
	buf := &pipeBuffer{ino: ino}
	r = &PipeEnd{buf: buf}
	w = &PipeEnd{buf: buf, write: true}
	buf.reader = r
	buf.writer = w
	buf.update()
	return r, w
}

// update recomputes the readiness of both ends.
func (b *pipeBuffer) update() {
	var rs syscallabi.Readiness
	if len(b.data) > 0 {
		rs |= syscallabi.Readable
	}
	if b.writerClosed {
		rs |= syscallabi.Readable | syscallabi.Closed
	}
	b.reader.ps.Notify(rs)

	var ws syscallabi.Readiness
	if len(b.data) < PipeCapacity {
		ws |= syscallabi.Writable
	}
	if b.readerClosed {
		ws |= syscallabi.Writable | syscallabi.Closed
	}
	b.writer.ps.Notify(ws)
}

func (p *PipeEnd) Stat() (syscallabi.Stat, error) {
	return syscallabi.Stat{
		Dev:     PipeDev,
		Ino:     p.buf.ino,
		Nlink:   1,
		Mode:    syscallabi.S_IFIFO | 0o600,
		Blksize: BlockSize,
	}, nil
}

// ReadAt reads buffered data. An empty pipe is EAGAIN while a writer is
// open and end of file afterwards.
func (p *PipeEnd) ReadAt(dst []byte, _ int64) (int, error) {
	if p.write {
		return 0, syscallabi.EBADF
	}
	b := p.buf
	if len(dst) == 0 {
		return 0, nil
	}
	if len(b.data) == 0 {
		if b.writerClosed {
			return 0, nil
		}
		return 0, syscallabi.EAGAIN
	}
	n := copy(dst, b.data)
	b.data = b.data[n:]
	if len(b.data) == 0 {
		b.data = nil
	}
	b.update()
	return n, nil
}

// WriteAt buffers as much of src as fits. A full pipe is EAGAIN; a pipe
// without readers is EPIPE.
func (p *PipeEnd) WriteAt(src []byte, _ int64) (int, error) {
	if !p.write {
		return 0, syscallabi.EBADF
	}
	b := p.buf
	if b.readerClosed {
		return 0, syscallabi.EPIPE
	}
	if len(src) == 0 {
		return 0, nil
	}
	space := PipeCapacity - len(b.data)
	if space == 0 {
		return 0, syscallabi.EAGAIN
	}
	n := min(space, len(src))
	b.data = append(b.data, src[:n]...)
	b.update()
	return n, nil
}

// Buffered returns the number of unread bytes.
func (p *PipeEnd) Buffered() int {
	return len(p.buf.data)
}

func (p *PipeEnd) Size() int64 {
	return 0
}

func (p *PipeEnd) Seekable() bool {
	return false
}

func (p *PipeEnd) Pollers() *syscallabi.Pollers {
	return &p.ps
}

func (p *PipeEnd) Close() error {
	if p.write {
		p.buf.writerClosed = true
	} else {
		p.buf.readerClosed = true
		p.buf.data = nil
	}
	p.buf.update()
	return nil
}
