package interrupt

import (
	"context"
	"io"
	"os"

	"golang.org/x/term"

	"connectorwiz/pkg/logx"
)

// InterruptKey is the byte the listener watches for: Ctrl+G (BEL). It is
// unlikely to collide with normal wizard input and survives raw mode.
const InterruptKey = 0x07

// Listener owns the interactive input stream. It watches for the
// interrupt key and signals the controller; every other byte is forwarded
// to Output, so the wizard never competes with the listener for the same
// reader. It never interprets guidance text itself; the coordinator
// collects that synchronously once it reaches a checkpoint.
type Listener struct {
	r      io.Reader
	ctrl   *Controller
	logger *logx.Logger

	pr   *io.PipeReader
	pw   *io.PipeWriter
	echo io.Writer
}

// NewListener creates a listener over the given reader. Pass os.Stdin in
// production; tests use an in-memory pipe.
func NewListener(r io.Reader, ctrl *Controller) *Listener {
	return &Listener{
		r:      r,
		ctrl:   ctrl,
		logger: logx.NewLogger("interrupt"),
	}
}

// Output returns the stream of non-interrupt bytes. Raw mode delivers
// Enter as '\r'; the listener rewrites it to '\n' so line-oriented
// readers downstream see normal line endings. Output must be called
// before Start; without it the listener discards everything except the
// interrupt key.
func (l *Listener) Output() io.Reader {
	if l.pr == nil {
		l.pr, l.pw = io.Pipe()
	}
	return l.pr
}

// EchoTo mirrors forwarded bytes to w. Raw mode disables the terminal's
// own echo, so an interactive session points this at the prompt writer.
func (l *Listener) EchoTo(w io.Writer) {
	l.echo = w
}

// Start runs the listener until the context is canceled or the reader is
// closed. It only ever calls Signal on the controller. When the input
// ends, Output is closed so downstream readers see EOF.
func (l *Listener) Start(ctx context.Context) {
	go func() {
		if l.pw != nil {
			defer func() { _ = l.pw.Close() }()
		}
		buf := make([]byte, 1)
		for {
			if ctx.Err() != nil {
				return
			}
			n, err := l.r.Read(buf)
			if err != nil {
				if err != io.EOF {
					l.logger.Debug("listener read ended: %v", err)
				}
				return
			}
			if n != 1 {
				continue
			}
			b := buf[0]
			if b == InterruptKey {
				l.logger.Debug("interrupt key received")
				l.ctrl.Signal()
				continue
			}
			if l.pw == nil {
				continue
			}
			if b == '\r' {
				b = '\n'
			}
			if l.echo != nil {
				if b == '\n' {
					_, _ = l.echo.Write([]byte("\r\n"))
				} else {
					_, _ = l.echo.Write([]byte{b})
				}
			}
			if _, err := l.pw.Write([]byte{b}); err != nil {
				l.logger.Debug("listener output closed: %v", err)
				return
			}
		}
	}()
}

// RawMode puts the terminal backing f into raw mode so single keypresses
// arrive without waiting for Enter, returning a restore function. On a
// non-terminal (pipes, CI) it is a no-op.
func RawMode(f *os.File) (restore func(), err error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() {
		_ = term.Restore(fd, oldState)
	}, nil
}
