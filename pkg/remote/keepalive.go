package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const keepaliveRequest = "keepalive@openssh.com"

var errKeepaliveTimeout = errors.New("keepalive reply timed out")

// keepaliveLoop sends a keepalive request every interval. After
// KeepaliveMaxMissed consecutive failures the session is declared dead.
func (s *Session) keepaliveLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.KeepaliveInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.ping(ctx)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				missed = 0
				continue
			}

			missed++
			slog.Debug("keepalive missed", "target", s.target(), "missed", missed, "error", err)
			if missed >= s.opts.KeepaliveMaxMissed {
				s.fail(fmt.Sprintf("keepalive: no reply after %d attempts: %v", missed, err))
				return
			}
		}
	}
}

// ping sends one keepalive and waits at most one interval for the reply.
// Any reply, including a refusal, proves the peer is alive.
func (s *Session) ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, _, err := s.conn.SendRequest(keepaliveRequest, true, nil)
		done <- err
	}()

	timer := time.NewTimer(s.opts.KeepaliveInterval)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errKeepaliveTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
