// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"runtime"
	"sync"
	"syscall"

	"github.com/vfskit/fuse/fuseops"
	"github.com/vfskit/fuse/internal/buffer"
	"github.com/vfskit/fuse/internal/freelist"
	"github.com/vfskit/fuse/internal/fusekernel"
)

const pageSize = 4096

type contextKeyType uint64

var contextKey interface{} = contextKeyType(0)

// Ask the Linux kernel for larger read requests: without a generous
// max_readahead the kernel reads a page at a time.
const maxReadahead = 1 << 20

// ConnectionInfo holds the parameters negotiated with the kernel during
// init. It is immutable once the connection is established.
type ConnectionInfo struct {
	// The protocol version spoken on the connection.
	ProtoMajor uint32
	ProtoMinor uint32

	// The negotiated limits.
	MaxReadahead        uint32
	MaxWrite            uint32
	MaxBackground       uint16
	CongestionThreshold uint16
	TimeGran            uint32
}

// Connection represents a connection to the fuse kernel process. It is
// used to receive requests from and reply to the kernel.
type Connection struct {
	cfg         MountConfig
	debugLogger *log.Logger
	errorLogger *log.Logger

	// The device through which we're talking to the kernel, and the
	// protocol version we settled on during init. Both immutable after
	// newConnection returns; the device descriptor is shared by the
	// single-consumer read loop and any number of concurrent repliers.
	dev      *os.File
	protocol fusekernel.Protocol
	info     ConnectionInfo

	mu sync.Mutex

	// A map from fuse "unique" request ID to a function that cancels the
	// context of its associated in-flight op.
	//
	// GUARDED_BY(mu)
	cancelFuncs map[uint64]func()

	// Whether the kernel has told us to shut down with FUSE_DESTROY.
	//
	// GUARDED_BY(mu)
	destroyed bool

	// A fatal receive error, reported by close.
	//
	// GUARDED_BY(mu)
	fatalErr error

	// Waiters for retrieve notifications, keyed by the notification's own
	// unique ID, plus the next ID to mint. See notify.go.
	//
	// GUARDED_BY(mu)
	retrieveWaiters map[uint64]chan []byte
	nextRetrieveID  uint64

	// Freelists for message buffers, serviced by freelists.go.
	//
	// GUARDED_BY(mu)
	inMessages  freelist.Freelist
	outMessages freelist.Freelist
}

// State maintained for each in-flight op, stuffed into the context the
// user replies with.
type opState struct {
	inMsg  *buffer.InMessage
	outMsg *buffer.OutMessage
	op     interface{}
}

// newConnection creates a connection wrapping the supplied device file and
// performs the init handshake with the kernel. The caller must eventually
// call c.close().
func newConnection(
	cfg MountConfig,
	dev *os.File) (*Connection, error) {
	debugLogger := cfg.DebugLogger
	if debugLogger == nil {
		debugLogger = getDebugLogger()
	}

	c := &Connection{
		cfg:             cfg,
		debugLogger:     debugLogger,
		errorLogger:     cfg.ErrorLogger,
		dev:             dev,
		cancelFuncs:     make(map[uint64]func()),
		retrieveWaiters: make(map[uint64]chan []byte),
	}

	if c.cfg.OpContext == nil {
		c.cfg.OpContext = context.Background()
	}

	if err := c.init(); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	return c, nil
}

// Info returns the parameters negotiated during init.
func (c *Connection) Info() ConnectionInfo {
	return c.info
}

// init performs the handshake that completes the mount: it reads the first
// frame, which must be FUSE_INIT, negotiates versions and capabilities,
// and replies.
func (c *Connection) init() error {
	ctx, op, err := c.ReadOp()
	if err != nil {
		return fmt.Errorf("reading init op: %w", err)
	}

	initOp, ok := op.(*initOp)
	if !ok {
		c.Reply(ctx, syscall.EPROTO)
		return fmt.Errorf("expected *initOp, got %T", op)
	}

	// The kernel must speak our major version and must not predate the
	// oldest minor we know how to talk to.
	min := fusekernel.Protocol{
		fusekernel.ProtoVersionMinMajor,
		fusekernel.ProtoVersionMinMinor,
	}

	if initOp.Kernel.Major != fusekernel.ProtoVersionMaxMajor ||
		initOp.Kernel.LT(min) {
		c.Reply(ctx, syscall.EPROTO)
		return fmt.Errorf("unsupported kernel protocol version: %v", initOp.Kernel)
	}

	// Downgrade to the kernel's minor version if it is lower than ours.
	c.protocol = fusekernel.Protocol{
		fusekernel.ProtoVersionMaxMajor,
		fusekernel.ProtoVersionMaxMinor,
	}

	if initOp.Kernel.LT(c.protocol) {
		c.protocol = initOp.Kernel
	}

	// Assemble the capabilities we want, then keep only what the kernel
	// offered.
	var candidates fusekernel.InitFlags

	// Plain 4 KiB writes are pitifully small; always ask for big ones.
	candidates |= fusekernel.InitBigWrites

	// kernel 4.20 increases the page limit per request from 32 to 256.
	candidates |= fusekernel.InitMaxPages

	if c.cfg.EnableAsyncReads {
		candidates |= fusekernel.InitAsyncRead
	}

	if !c.cfg.DisableWritebackCaching {
		candidates |= fusekernel.InitWritebackCache
	}

	if c.cfg.EnableSymlinkCaching {
		candidates |= fusekernel.InitCacheSymlinks
	}

	if c.cfg.EnableNoOpenSupport {
		candidates |= fusekernel.InitNoOpenSupport
	}

	if c.cfg.EnableNoOpendirSupport {
		candidates |= fusekernel.InitNoOpendirSupport
	}

	if c.cfg.EnableParallelDirOps {
		candidates |= fusekernel.InitParallelDirOps
	}

	if c.cfg.EnableAtomicTrunc {
		candidates |= fusekernel.InitAtomicTrunc
	}

	initOp.Flags = candidates & initOp.KernelFlags

	// Respond with our limits.
	maxWrite := c.cfg.MaxWrite
	if maxWrite == 0 || maxWrite > buffer.MaxWriteSize {
		maxWrite = buffer.MaxWriteSize
	}

	readahead := uint32(maxReadahead)
	if c.cfg.MaxReadahead != 0 && c.cfg.MaxReadahead < readahead {
		readahead = c.cfg.MaxReadahead
	}
	if initOp.MaxReadahead < readahead {
		readahead = initOp.MaxReadahead
	}

	timeGran := c.cfg.TimeGran
	if timeGran == 0 {
		timeGran = 1
	}

	initOp.Library = c.protocol
	initOp.MaxReadahead = readahead
	initOp.MaxWrite = maxWrite
	initOp.MaxBackground = c.cfg.MaxBackground
	initOp.CongestionThreshold = c.cfg.CongestionThreshold
	initOp.TimeGran = timeGran

	if initOp.Flags&fusekernel.InitMaxPages != 0 {
		initOp.MaxPages = uint16((maxWrite + pageSize - 1) / pageSize)
	}

	c.info = ConnectionInfo{
		ProtoMajor:          c.protocol.Major,
		ProtoMinor:          c.protocol.Minor,
		MaxReadahead:        readahead,
		MaxWrite:            maxWrite,
		MaxBackground:       initOp.MaxBackground,
		CongestionThreshold: initOp.CongestionThreshold,
		TimeGran:            timeGran,
	}

	return c.Reply(ctx, nil)
}

// debugLog logs information for an op with the given fuse unique ID.
// calldepth is the depth to use when recovering file:line information with
// runtime.Caller.
func (c *Connection) debugLog(
	fuseID uint64,
	calldepth int,
	format string,
	v ...interface{}) {
	if c.debugLogger == nil {
		return
	}

	var file string
	var line int
	var ok bool

	_, file, line, ok = runtime.Caller(calldepth)
	if !ok {
		file = "???"
	}

	fileLine := fmt.Sprintf("%v:%v", path.Base(file), line)

	c.debugLogger.Println(fmt.Sprintf(
		"Op 0x%08x %24s] %v",
		fuseID,
		fileLine,
		fmt.Sprintf(format, v...)))
}

// LOCKS_EXCLUDED(c.mu)
func (c *Connection) recordCancelFunc(
	fuseID uint64,
	f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cancelFuncs[fuseID]; ok {
		panic(fmt.Sprintf("Already have cancel func for request %v", fuseID))
	}

	c.cancelFuncs[fuseID] = f
}

// beginOp sets up state for an op that is about to be returned to the
// user, given its underlying opcode and request ID, and returns a context
// for it.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) beginOp(
	opCode uint32,
	fuseID uint64) context.Context {
	ctx := c.cfg.OpContext

	// Set up a cancellation function, except for ops that receive no reply
	// and whose IDs are therefore immediately eligible for reuse.
	if opCode != fusekernel.OpForget && opCode != fusekernel.OpBatchForget {
		var cancel func()
		ctx, cancel = context.WithCancel(ctx)
		c.recordCancelFunc(fuseID, cancel)
	}

	return ctx
}

// finishOp cleans up all state associated with an op to which the user has
// responded. It must be called before the reply is written, so that the
// request's ID is not reused by the kernel while we still track it.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) finishOp(
	opCode uint32,
	fuseID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if opCode == fusekernel.OpForget || opCode == fusekernel.OpBatchForget {
		return
	}

	// context.WithCancel requires the cancel function to be called
	// eventually in any case.
	cancel, ok := c.cancelFuncs[fuseID]
	if !ok {
		panic(fmt.Sprintf("Unknown request ID in finishOp: %v", fuseID))
	}

	cancel()
	delete(c.cancelFuncs, fuseID)
}

// handleInterrupt cancels the in-flight op with the given ID, if any. An
// interrupt cannot be delivered before its target, so a missing ID means
// the target has already been replied to; the kernel then forgets the
// interrupt on seeing the reply, and no side effect is wanted.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) handleInterrupt(fuseID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cancel, ok := c.cancelFuncs[fuseID]
	if !ok {
		return
	}

	cancel()
}

// markDestroyed flags the session as terminal. Subsequent ReadOp calls
// return EOF semantics; retrieve waiters are failed by the caller.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) markDestroyed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.destroyed = true
}

// LOCKS_EXCLUDED(c.mu)
func (c *Connection) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.destroyed
}

// setFatal records the first fatal receive error, for reporting by close.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) setFatal(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}
}

// readMessage reads the next message from the kernel. The message must
// later be destroyed with putInMessage.
func (c *Connection) readMessage() (*buffer.InMessage, error) {
	m := c.getInMessage()

	// Loop past transient errors.
	for {
		err := m.Init(c.dev)

		// ENODEV means the kernel has hung up, which is how unmounting
		// manifests; EINTR asks for a retry.
		if pe, ok := err.(*os.PathError); ok {
			switch pe.Err {
			case syscall.ENODEV:
				err = io.EOF

			case syscall.EINTR:
				err = nil
				continue
			}
		}

		if err != nil {
			c.putInMessage(m)
			return nil, err
		}

		return m, nil
	}
}

// writeOutMessage writes a reply or notification frame to the kernel,
// using a single vectored write when the message carries scatter/gather
// segments so the frame stays intact.
func (c *Connection) writeOutMessage(outMsg *buffer.OutMessage) error {
	expected := int(outMsg.OutHeader().Len)

	var n int
	var err error
	if outMsg.Sglist != nil {
		sgl := append([][]byte{outMsg.Bytes()}, outMsg.Sglist...)
		n, err = writev(int(c.dev.Fd()), sgl)
	} else {
		// Avoid the retry loop in os.File.Write; frames must go out in one
		// system call.
		n, err = syscall.Write(int(c.dev.Fd()), outMsg.Bytes())
	}

	if err != nil {
		return err
	}

	if n != expected {
		return fmt.Errorf("wrote %d bytes; expected %d", n, expected)
	}

	return nil
}

// ReadOp consumes the next op from the kernel, returning the op and a
// context that should be used for work related to it. It returns io.EOF
// when the kernel has closed the connection or destroyed the session.
//
// If and only if err is nil, the user is responsible for later calling
// c.Reply with the returned context.
//
// Ops are delivered in exactly the order they are received from the
// device. ReadOp must not be called multiple times concurrently.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) ReadOp() (_ context.Context, op interface{}, _ error) {
	// Keep going until we find a request directed at the user.
	for {
		if c.isDestroyed() {
			return nil, nil, io.EOF
		}

		inMsg, err := c.readMessage()
		if err != nil {
			if err != io.EOF {
				c.setFatal(err)
			}
			return nil, nil, err
		}

		// Convert the message to an op.
		outMsg := c.getOutMessage()
		op, err = convertInMessage(&c.cfg, inMsg, outMsg, c.protocol)
		if err != nil {
			c.putOutMessage(outMsg)
			c.putInMessage(inMsg)
			err = fmt.Errorf("convertInMessage: %w", err)
			c.setFatal(err)
			return nil, nil, err
		}

		unique := inMsg.Header().Unique

		if c.debugLogger != nil {
			c.debugLog(unique, 1, "<- %s", describeRequest(op))
		}

		switch typed := op.(type) {
		// Interrupt requests are handled inline, without involving the
		// user.
		case *interruptOp:
			c.handleInterrupt(typed.FuseID)
			c.putOutMessage(outMsg)
			c.putInMessage(inMsg)
			continue

		// Retrieve replies are correlated with their waiter, not
		// dispatched.
		case *notifyReplyOp:
			c.completeRetrieve(unique, typed.Data)
			c.putOutMessage(outMsg)
			c.putInMessage(inMsg)
			continue

		// Destroy marks the session terminal. The kernel gets an empty
		// reply and the read loop winds down; outstanding handlers may
		// still reply.
		case *destroyOp:
			c.markDestroyed()
			c.failPendingRetrieves()

			outMsg.OutHeader().Unique = unique
			outMsg.OutHeader().Len = uint32(outMsg.Len())
			if err := c.writeOutMessage(outMsg); err != nil && c.errorLogger != nil {
				c.errorLogger.Printf("writing destroy reply: %v", err)
			}

			c.putOutMessage(outMsg)
			c.putInMessage(inMsg)
			return nil, nil, io.EOF
		}

		// Set up a context that remembers information about this op.
		ctx := c.beginOp(inMsg.Header().Opcode, unique)
		ctx = context.WithValue(ctx, contextKey, opState{inMsg, outMsg, op})

		return ctx, op, nil
	}
}

// shouldLogError skips errors that happen as a matter of course, since
// they spook users.
func (c *Connection) shouldLogError(
	op interface{},
	err error) bool {
	if err == nil || c.errorLogger == nil {
		return false
	}

	switch op.(type) {
	case *fuseops.LookUpInodeOp:
		// It is totally normal for the kernel to look up a name that
		// doesn't exist, e.g. before creating a file.
		if err == syscall.ENOENT {
			return false
		}
	case *fuseops.GetXattrOp, *fuseops.ListXattrOp:
		if err == syscall.ENOSYS || err == syscall.ENODATA || err == syscall.ERANGE {
			return false
		}
	case *unknownOp:
		// Don't bother the user with methods we intentionally don't
		// support.
		if err == syscall.ENOSYS {
			return false
		}
	}

	return true
}

// Reply replies to an op previously read using ReadOp, with the supplied
// error (or nil on success). The context must be the one returned by
// ReadOp. Each op must be replied to exactly once.
//
// For ops with no reply on the wire (forget and friends), Reply releases
// the op's resources without writing anything.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) Reply(ctx context.Context, opErr error) error {
	// Extract the state we stuffed in earlier.
	state, ok := ctx.Value(contextKey).(opState)
	if !ok {
		panic(fmt.Sprintf("Reply called with invalid context: %#v", ctx))
	}

	op := state.op
	inMsg := state.inMsg
	outMsg := state.outMsg
	fuseID := inMsg.Header().Unique

	// Make sure we destroy the messages when we're done.
	defer c.putInMessage(inMsg)
	defer c.putOutMessage(outMsg)

	// Clean up state for this op before the reply makes the ID reusable.
	c.finishOp(inMsg.Header().Opcode, fuseID)

	logError := c.shouldLogError(op, opErr)

	if c.debugLogger != nil {
		if opErr == nil {
			c.debugLog(fuseID, 1, "-> %s", describeResponse(op))
		} else if !logError {
			c.debugLog(fuseID, 1, "-> Error: %q", opErr.Error())
		}
	}

	if logError {
		c.errorLogger.Printf("Op 0x%08x %T] -> Error: %q", fuseID, op, opErr)
	}

	// Send the reply to the kernel, if one is required.
	noResponse := c.kernelResponse(outMsg, fuseID, op, opErr)

	if !noResponse {
		if err := c.writeOutMessage(outMsg); err != nil {
			if c.errorLogger != nil {
				c.errorLogger.Printf("writeOutMessage: %v", err)
			}
			return fmt.Errorf("writeOutMessage: %w", err)
		}
	}

	return nil
}

// close closes the connection. Must not be called until all ops read from
// the connection have been responded to.
func (c *Connection) close() error {
	// Posix doesn't say close can be called concurrently with read or
	// write, but we exclude the race by requiring all ops to be responded
	// to first.
	err := c.dev.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Join(c.fatalErr, err)
}
