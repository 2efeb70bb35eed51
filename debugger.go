package mallard

import (
	"bufio"
	"fmt"
	"net"
)

// socketTransport adapts a TCP connection to the engine's debug transport.
// Writes are buffered until the engine flushes; Peek reports bytes already
// buffered plus whatever a non-blocking fill can pull in.
type socketTransport struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	done func()
}

func newSocketTransport(conn net.Conn, done func()) *socketTransport {
	return &socketTransport{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
		done: done,
	}
}

func (t *socketTransport) Read(p []byte) (int, error)  { return t.r.Read(p) }
func (t *socketTransport) Write(p []byte) (int, error) { return t.w.Write(p) }

func (t *socketTransport) Peek() (int, error) {
	return t.r.Buffered(), nil
}

func (t *socketTransport) ReadFlush() {}

func (t *socketTransport) WriteFlush() {
	_ = t.w.Flush()
}

func (t *socketTransport) Detached() {
	_ = t.w.Flush()
	_ = t.conn.Close()
	if t.done != nil {
		t.done()
	}
}

// WaitForDebugger listens on addr, blocks until a single debugger client
// connects, and attaches the engine's debug protocol to that connection.
// The session ends when either side detaches, after which the context runs
// normally again.
func (c *Context) WaitForDebugger(addr string) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	if c.debugging {
		return fmt.Errorf("mallard: debugger already attached")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mallard: debugger listen: %w", err)
	}
	defer ln.Close()

	c.log.Info().Stringer("ctx", c.id).Str("addr", ln.Addr().String()).
		Msg("waiting for debugger")
	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("mallard: debugger accept: %w", err)
	}

	t := newSocketTransport(conn, func() { c.debugging = false })
	if err := c.eng.AttachDebugger(t); err != nil {
		_ = conn.Close()
		return fmt.Errorf("mallard: attach debugger: %w", err)
	}
	c.debugging = true
	c.log.Info().Stringer("ctx", c.id).Str("peer", conn.RemoteAddr().String()).
		Msg("debugger attached")
	return nil
}

// IsDebugging reports whether a debug session is active.
func (c *Context) IsDebugging() bool {
	if err := c.enter(); err != nil {
		return false
	}
	defer c.leave()
	return c.debugging
}

// CooperateDebugger gives the engine a chance to process pending debugger
// traffic while no script is executing. Hosts embedding a long-lived
// context should call this periodically from the thread that drives it.
func (c *Context) CooperateDebugger() {
	if err := c.enter(); err != nil {
		return
	}
	defer c.leave()
	if c.debugging {
		c.eng.DebuggerCooperate()
	}
}
