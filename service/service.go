package service

import (
	"context"
	"sync/atomic"
	"time"
)

// Status represents the current status of a service
type Status int32

// Possible service statuses
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Service is a long-running role
type Service interface {
	Name() string
	Status() Status
	Run(ctx context.Context) error
}

// shutdownTimeout bounds HTTP server shutdown
const shutdownTimeout = 5 * time.Second

// lifecycle tracks status and publishes readiness once the listener is bound
type lifecycle struct {
	status atomic.Int32
	addr   atomic.Value // string
	ready  chan struct{}
}

func (l *lifecycle) Status() Status {
	return Status(l.status.Load())
}

func (l *lifecycle) setStatus(s Status) {
	l.status.Store(int32(s))
}

func (l *lifecycle) markReady(addr string) {
	l.addr.Store(addr)
	close(l.ready)
}

// Ready is closed once the HTTP listener is bound
func (l *lifecycle) Ready() <-chan struct{} {
	return l.ready
}

// Addr is the bound HTTP address, empty before Ready
func (l *lifecycle) Addr() string {
	addr, _ := l.addr.Load().(string)
	return addr
}
