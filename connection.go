package tnt

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/vmihailenco/msgpack.v2"

	"github.com/opentnt/tnt/metrics"
)

// Opts configures a Connection. There is no sentinel for "unset": a
// zero-valued ConnectTimeout or ReadTimeout fails Connect immediately
// with Timeout, per the package invariant. Start from DefaultOpts and
// override only what differs.
type Opts struct {
	User     string
	Password string

	ConnectTimeout time.Duration
	DNSTimeout     time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	Logger  Logger
	Metrics metrics.Sink
}

// DefaultOpts returns the 1-second-everywhere defaults described in
// §6, with no user, no logger override, and no metrics sink.
func DefaultOpts() Opts {
	return Opts{
		ConnectTimeout: time.Second,
		DNSTimeout:     time.Second,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
	}
}

// call is a single-shot rendezvous: exactly one Response (or the
// connection's terminal failure) will ever reach ch.
type call struct {
	sync  uint64
	op    string
	ch    chan *Response
	start time.Time
}

// Connection is a handle to the server. It owns one TCP socket, the
// pending-request table, and the background reader/keepalive tasks.
// It is safe to share across many concurrent callers: each blocks
// only itself while awaiting its own response.
type Connection struct {
	host string
	port int
	opts Opts

	conn net.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]*call

	syncCounter uint64

	schemaMu sync.RWMutex
	schema   *Schema

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
	closeMu   sync.Mutex

	cancel context.CancelFunc
	group  *errgroup.Group
}

// deadlineConn applies a fixed read/write deadline to every I/O call,
// the way the reference client's DeadlineIO does; a zero duration
// disables the corresponding deadline instead of erroring.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (d *deadlineConn) Read(p []byte) (int, error) {
	if d.readTimeout > 0 {
		if err := d.Conn.SetReadDeadline(time.Now().Add(d.readTimeout)); err != nil {
			return 0, err
		}
	}
	return d.Conn.Read(p)
}

func (d *deadlineConn) Write(p []byte) (int, error) {
	if d.writeTimeout > 0 {
		if err := d.Conn.SetWriteDeadline(time.Now().Add(d.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return d.Conn.Write(p)
}

// Connect opens a TCP connection to host:port, performs the greeting
// handshake, starts the reader and keepalive tasks, and authenticates
// if credentials were supplied and are not the anonymous pair.
func Connect(host string, port int, opts Opts) (*Connection, error) {
	if opts.ConnectTimeout <= 0 {
		return nil, newError(Timeout, "connect_timeout must be > 0")
	}
	if opts.ReadTimeout <= 0 {
		return nil, newError(Timeout, "read_timeout must be > 0")
	}
	if opts.Logger == nil {
		opts.Logger = stdLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}

	raw, err := dial(host, port, opts.ConnectTimeout, opts.DNSTimeout)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		host:    host,
		port:    port,
		opts:    opts,
		conn:    &deadlineConn{Conn: raw, readTimeout: opts.ReadTimeout, writeTimeout: opts.WriteTimeout},
		pending: make(map[uint64]*call),
		closing: make(chan struct{}),
	}

	greet, err := c.readGreeting()
	if err != nil {
		raw.Close()
		return nil, err
	}
	opts.Logger.Infof("connected to %s:%d (%s)", host, port, greet.Version)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	c.group = g

	g.Go(func() error { return c.readLoop() })
	g.Go(func() error { return c.keepaliveLoop(gctx) })

	if !isAnonymous(opts.User, opts.Password) {
		if err := c.authenticate(greet); err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}

// dial resolves host within dnsTimeout and opens a TCP socket to it
// within connectTimeout. A non-positive dnsTimeout disables the
// resolution deadline; connectTimeout must already be positive by the
// time dial is called.
func dial(host string, port int, connectTimeout, dnsTimeout time.Duration) (net.Conn, error) {
	ips := []string{host}
	if net.ParseIP(host) == nil {
		ctx := context.Background()
		var cancel context.CancelFunc
		if dnsTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, dnsTimeout)
			defer cancel()
		}
		resolved, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil {
			if ctx.Err() != nil {
				return nil, wrapError(Timeout, err, "dns lookup for %s", host)
			}
			return nil, wrapError(IoError, err, "dns lookup for %s", host)
		}
		if len(resolved) == 0 {
			return nil, newError(IoError, "no addresses for host %s", host)
		}
		ips = resolved
	}

	dialer := net.Dialer{Timeout: connectTimeout}
	addr := net.JoinHostPort(ips[0], strconv.Itoa(port))
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		if isTimeout(err) {
			return nil, wrapError(Timeout, err, "connect to %s", addr)
		}
		return nil, wrapError(IoError, err, "connect to %s", addr)
	}
	return conn, nil
}

func (c *Connection) readGreeting() (*greeting, error) {
	buf := make([]byte, greetingSize)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		if isTimeout(err) {
			return nil, wrapError(Timeout, err, "read greeting")
		}
		return nil, wrapError(IoError, err, "read greeting")
	}
	return parseGreeting(buf)
}

func (c *Connection) authenticate(greet *greeting) error {
	scr, err := scramble(greet.encodedSalt, c.opts.Password)
	if err != nil {
		return err
	}
	user := c.opts.User
	_, err = c.dispatch(context.Background(), AuthCommand, "auth", func(enc *msgpack.Encoder) error {
		enc.EncodeMapLen(2)
		enc.EncodeUint64(uint64(KeyUsername))
		if err := enc.EncodeString(user); err != nil {
			return err
		}
		enc.EncodeUint64(uint64(KeyTuple))
		return enc.Encode([]interface{}{"chap-sha1", string(scr)})
	})
	return err
}

// nextSync allocates the next monotonically increasing sync tag.
// Starts at 1 and is never reused within a connection's lifetime.
// Callers must hold writeMu: sync allocation, the pending-table
// insert, and the wire write all happen under the same critical
// section so that write order on the wire always matches allocation
// order, even with many concurrent dispatchers.
func (c *Connection) nextSync() uint64 {
	c.syncCounter++
	return c.syncCounter
}

// dispatch is the single path every request takes: allocate a sync
// tag, register a pending rendezvous, write the frame, and wait for
// either a response or the connection's terminal failure.
func (c *Connection) dispatch(ctx context.Context, code CommandCode, op string, body func(*msgpack.Encoder) error) (*Response, error) {
	select {
	case <-c.closing:
		return nil, c.terminalError()
	default:
	}

	cl := &call{op: op, ch: make(chan *Response, 1), start: time.Now()}

	c.writeMu.Lock()
	sync := c.nextSync()
	cl.sync = sync

	c.pendingMu.Lock()
	c.pending[sync] = cl
	c.pendingMu.Unlock()

	frame, err := encodeFrame(code, sync, body)
	if err != nil {
		c.writeMu.Unlock()
		c.removePending(sync)
		return nil, err
	}

	_, werr := c.conn.Write(frame)
	c.writeMu.Unlock()
	if werr != nil {
		c.removePending(sync)
		kind := IoError
		if isTimeout(werr) {
			kind = Timeout
		}
		writeErr := wrapError(kind, werr, "write request")
		c.opts.Metrics.Incr(metrics.ErrorStat(op), 1)
		c.fail(writeErr)
		return nil, writeErr
	}

	select {
	case resp := <-cl.ch:
		return c.finish(op, cl.start, resp)
	case <-c.closing:
		c.removePending(sync)
		err := c.terminalError()
		c.opts.Metrics.Incr(metrics.ErrorStat(op), 1)
		return nil, err
	case <-ctx.Done():
		c.removePending(sync)
		err := contextError(ctx)
		c.opts.Metrics.Incr(metrics.ErrorStat(op), 1)
		return nil, err
	}
}

func (c *Connection) finish(op string, start time.Time, resp *Response) (*Response, error) {
	if resp.Header.Code != OkResponse {
		c.opts.Metrics.Incr(metrics.ErrorStat(op), 1)
		return resp, serverError(resp.Error)
	}
	c.opts.Metrics.Incr(op, 1)
	c.opts.Metrics.Timing(op, time.Since(start))
	return resp, nil
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return wrapError(Timeout, ctx.Err(), "request canceled")
	}
	return wrapError(Closed, ctx.Err(), "request canceled")
}

func (c *Connection) removePending(sync uint64) {
	c.pendingMu.Lock()
	delete(c.pending, sync)
	c.pendingMu.Unlock()
}

// readLoop is the sole owner of the socket read side. It decodes one
// response frame per iteration and routes it by sync tag; any failure
// here is terminal for the connection.
func (c *Connection) readLoop() error {
	for {
		payload, err := readFrame(c.conn)
		if err != nil {
			c.fail(err)
			return err
		}
		resp, err := decodeResponse(payload)
		if err != nil {
			c.fail(err)
			return err
		}
		c.deliver(resp)
	}
}

func (c *Connection) deliver(resp *Response) {
	c.pendingMu.Lock()
	cl, ok := c.pending[resp.Header.Sync]
	if ok {
		delete(c.pending, resp.Header.Sync)
	}
	c.pendingMu.Unlock()

	if !ok {
		// The caller timed out or canceled before this arrived.
		c.opts.Logger.Debugf("dropping response for unknown sync %d", resp.Header.Sync)
		return
	}
	cl.ch <- resp
}

// keepaliveLoop issues PING every ReadTimeout/3, doubling as a
// liveness probe and exercising the read deadline.
func (c *Connection) keepaliveLoop(ctx context.Context) error {
	interval := c.opts.ReadTimeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.closing:
			return nil
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = c.Ping()
		}
	}
}

// fail marks the connection terminally broken, closing the socket and
// unblocking every pending and future waiter with Closed. Idempotent.
func (c *Connection) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closeErr = err
		c.closeMu.Unlock()
		close(c.closing)
		c.conn.Close()
		c.drainPending()
	})
}

// drainPending releases every pending call. It does not push errors
// into their channels: c.closing is already closed by the time fail
// calls this, so every blocked dispatch unblocks on its own via the
// <-c.closing select branch.
func (c *Connection) drainPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending = make(map[uint64]*call)
}

func (c *Connection) terminalError() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closeErr != nil {
		return wrapError(Closed, c.closeErr, "connection closed")
	}
	return newError(Closed, "connection closed")
}

// Close closes the connection and fails every pending caller with
// Closed. Idempotent.
func (c *Connection) Close() error {
	c.fail(newError(Closed, "connection closed by caller"))
	if c.cancel != nil {
		c.cancel()
	}
	if c.group != nil {
		_ = c.group.Wait()
	}
	return nil
}

func isTimeout(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return false
}
