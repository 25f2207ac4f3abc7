// File: cmd/fiberrtd/main.go
// Author: momentics <momentics@gmail.com>
//
// fiberrtd is the runtime's demo binary: a plain TCP byte-echo listener
// driven entirely through hook.Runtime, so every connection runs on a
// cooperative fiber instead of a goroutine-per-conn. Grounded on the
// teacher's examples/lowlevel/echo convention (flags, server lifecycle,
// signal handling) but speaking raw TCP, not the WebSocket protocol —
// application framing stays out of scope.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/coreflux/fiberrt/control"
	"github.com/coreflux/fiberrt/fdmgr"
	"github.com/coreflux/fiberrt/hook"
	"github.com/coreflux/fiberrt/ioreactor"
	"github.com/coreflux/fiberrt/pool"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "fiberrtd",
		Short: "Cooperative-fiber TCP echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(v)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":9090", "listen address (host:port)")
	flags.Int("workers", 4, "worker OS thread count")
	flags.Bool("use-caller", true, "run the calling goroutine as an extra scheduler worker")
	flags.Bool("verbose", false, "enable structured JSON logging (default: silent)")
	v.BindPFlags(flags)

	v.SetEnvPrefix("fiberrtd")
	v.AutomaticEnv()

	return cmd
}

func runServe(v *viper.Viper) error {
	cs := control.NewConfigStore()
	control.LoadFromViper(cs, v)
	metrics := control.NewMetricsRegistry()
	ctl := control.NewRuntime(cs, metrics)

	logger := control.NewNopLogger()
	if v.GetBool("verbose") {
		l, err := control.NewProductionLogger()
		if err != nil {
			return err
		}
		logger = l
	}
	defer logger.Sync()

	workers := v.GetInt("workers")
	useCaller := v.GetBool("use-caller")
	addr := v.GetString("addr")

	io, err := ioreactor.New("fiberrtd", workers, useCaller)
	if err != nil {
		return err
	}
	io.Logger = logger
	defer io.Close()

	fds := fdmgr.New()
	rt := hook.New(fds, io)
	rt.Logger = logger

	listenFd, err := listenTCP(addr)
	if err != nil {
		return err
	}
	defer rt.Close(listenFd)
	rt.Fds.Get(listenFd, true)

	ctl.RegisterDebugProbe("io.queue_len", func() any { return io.QueueLen() })
	ctl.RegisterDebugProbe("io.active_workers", func() any { return io.ActiveCount() })
	ctl.RegisterDebugProbe("io.idle_workers", func() any { return io.IdleCount() })
	ctl.OnReload(func() {
		logger.Infow("config reloaded", "config", ctl.GetConfig())
	})

	logger.Infow("fiberrtd listening", "addr", addr, "workers", workers, "useCaller", useCaller)

	bufPool := pool.NewBytePool(4096)

	if err := io.Submit(func() {
		hook.SetEnabled(true)
		acceptLoop(rt, io, listenFd, bufPool, metrics, logger)
	}); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	dump := make(chan os.Signal, 1)
	signal.Notify(dump, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-dump:
				logger.Infow("debug dump", "state", ctl.DumpState(), "stats", ctl.Stats())
			case <-sig:
				logger.Infow("shutting down")
				io.Stop()
				close(done)
				return
			}
		}
	}()

	if err := io.Start(useCaller); err != nil {
		return err
	}
	<-done
	return nil
}

// listenTCP creates, binds, and listens on a raw IPv4 TCP socket. The
// fd is registered with hook.Runtime's fd registry by runServe, not
// here: listen/bind never block, so only accept needs hooking.
func listenTCP(addr string) (int, error) {
	ip, port, err := parseHostPort(addr)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}

	sa := &unix.SockaddrInet4{Port: port, Addr: ip}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// parseHostPort turns "host:port" into a 4-byte IPv4 address and port
// number, treating an empty or wildcard host as INADDR_ANY.
func parseHostPort(addr string) ([4]byte, int, error) {
	var ip [4]byte
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return ip, 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ip, 0, err
	}
	if host == "" || host == "0.0.0.0" {
		return ip, port, nil
	}
	parsed := net.ParseIP(host)
	v4 := parsed.To4()
	if v4 == nil {
		return ip, 0, fmt.Errorf("fiberrtd: not an IPv4 address: %q", host)
	}
	copy(ip[:], v4)
	return ip, port, nil
}

// acceptLoop runs as a fiber: Accept suspends on EAGAIN until a peer
// connects, then a fresh fiber is spawned per connection so one slow
// reader never blocks the next accept.
func acceptLoop(rt *hook.Runtime, io *ioreactor.IOManager, listenFd int, bufPool *pool.BytePool, metrics *control.MetricsRegistry, logger *zap.SugaredLogger) {
	for {
		connFd, _, err := rt.Accept(listenFd)
		if err != nil {
			if err == unix.EINVAL || err == unix.EBADF {
				return
			}
			logger.Errorw("accept failed", "error", err)
			continue
		}
		metrics.TasksScheduled.Inc()
		if err := io.Submit(func() {
			hook.SetEnabled(true)
			echoConn(rt, connFd, bufPool, metrics, logger)
		}); err != nil {
			rt.Close(connFd)
		}
	}
}

// echoConn copies bytes back to the peer until it disconnects or errors.
func echoConn(rt *hook.Runtime, fd int, bufPool *pool.BytePool, metrics *control.MetricsRegistry, logger *zap.SugaredLogger) {
	defer rt.Close(fd)
	defer metrics.TasksCompleted.Inc()

	buf := bufPool.Acquire(4096)
	defer bufPool.Release(buf)

	for {
		n, err := rt.Read(fd, buf)
		if err != nil {
			if err != unix.ECONNRESET {
				logger.Errorw("read failed", "fd", fd, "error", err)
			}
			return
		}
		if n == 0 {
			return
		}
		written := 0
		for written < n {
			w, err := rt.Write(fd, buf[written:n])
			if err != nil {
				logger.Errorw("write failed", "fd", fd, "error", err)
				return
			}
			written += w
		}
	}
}
