// Package transport carries datagrams between the autopilot and the
// simulator.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Buffer size constants
const (
	MaxDatagramSize = 65507 // largest UDP payload over IPv4
)

// ErrTimeout is returned by Receive when nothing arrived within the poll
// interval. Callers check their stop signal and call Receive again.
var ErrTimeout = errors.New("receive timed out")

// UDPChannel is a bidirectional UDP channel to the simulator.
type UDPChannel struct {
	conn   *net.UDPConn
	logger *logrus.Logger
	poll   time.Duration
	buf    []byte

	mu     sync.Mutex
	remote *net.UDPAddr
	fixed  bool
}

// ListenUDP opens a channel listening on listen. Commands go to remote;
// when remote is empty they go to whoever sent the latest datagram.
func ListenUDP(listen, remote string, poll time.Duration, logger *logrus.Logger) (*UDPChannel, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address: %w", err)
	}

	u := &UDPChannel{
		logger: logger,
		poll:   poll,
		buf:    make([]byte, MaxDatagramSize),
	}
	if remote != "" {
		if u.remote, err = net.ResolveUDPAddr("udp", remote); err != nil {
			return nil, fmt.Errorf("failed to resolve command address: %w", err)
		}
		u.fixed = true
	}

	if u.conn, err = net.ListenUDP("udp", laddr); err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"listen":  u.conn.LocalAddr().String(),
		"command": remote,
		"poll":    poll,
	}).Info("UDP channel opened")

	return u, nil
}

// LocalAddr returns the address the channel listens on.
func (u *UDPChannel) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// Receive waits up to the poll interval for one datagram. The returned
// slice is owned by the caller.
func (u *UDPChannel) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := u.conn.SetReadDeadline(time.Now().Add(u.poll)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	n, addr, err := u.conn.ReadFromUDP(u.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to receive: %w", err)
	}

	if !u.fixed {
		u.mu.Lock()
		u.remote = addr
		u.mu.Unlock()
	}

	data := make([]byte, n)
	copy(data, u.buf[:n])
	return data, nil
}

// Send transmits one datagram without waiting for any acknowledgement.
func (u *UDPChannel) Send(data []byte) error {
	u.mu.Lock()
	remote := u.remote
	u.mu.Unlock()

	if remote == nil {
		return errors.New("no command address known yet")
	}
	if _, err := u.conn.WriteToUDP(data, remote); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// Close closes the channel.
func (u *UDPChannel) Close() error {
	if err := u.conn.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	u.logger.Info("UDP channel closed")
	return nil
}
