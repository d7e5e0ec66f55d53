package interrupt

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerForwardsOtherBytesToOutput(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()

	c := NewController()
	l := NewListener(pr, c)
	out := bufio.NewReader(l.Output())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	go func() {
		_, _ = pw.Write([]byte("2\n"))
		_, _ = pw.Write([]byte{InterruptKey})
		_, _ = pw.Write([]byte("done\n"))
		_ = pw.Close()
	}()

	line, err := out.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "2\n", line)

	line, err = out.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "done\n", line)

	// The interrupt key itself was intercepted, not forwarded.
	assert.True(t, c.Pending())
}

func TestListenerRewritesCarriageReturn(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()

	c := NewController()
	l := NewListener(pr, c)
	out := bufio.NewReader(l.Output())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	go func() {
		// Raw mode delivers Enter as '\r'.
		_, _ = pw.Write([]byte("5\r"))
		_ = pw.Close()
	}()

	line, err := out.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "5\n", line)
}

func TestListenerClosesOutputOnEOF(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()

	c := NewController()
	l := NewListener(pr, c)
	out := l.Output()
	l.Start(context.Background())

	go func() {
		_, _ = pw.Write([]byte{'x'})
		_ = pw.Close()
	}()

	buf := make([]byte, 1)
	n, err := out.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, byte('x'), buf[0])

	_, err = out.Read(buf)
	assert.Equal(t, io.EOF, err)
}

func TestListenerEchoesForwardedInput(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()

	c := NewController()
	l := NewListener(pr, c)
	out := bufio.NewReader(l.Output())
	var echo bytes.Buffer
	l.EchoTo(&echo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	go func() {
		_, _ = pw.Write([]byte("ok\r"))
		_ = pw.Close()
	}()

	_, err := out.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ok\r\n", echo.String())
}
