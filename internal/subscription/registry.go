// Package subscription manages the collector's handles on host change
// channels, guaranteeing at most one live handle per channel no matter how
// often the controller re-registers after identity changes.
package subscription

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"arenatracker/collector/internal/host"
	"arenatracker/collector/internal/logging"
)

// Source is the subset of the host inventory surface the registry drives.
type Source interface {
	Subscribe(channel string, handler host.ChannelHandler) error
	Unsubscribe(channel string, handler host.ChannelHandler) error
}

// Registry tracks which channels currently have a live handle.
type Registry struct {
	mu     sync.Mutex
	source Source
	log    *zap.Logger
	active map[string]host.ChannelHandler
}

// NewRegistry builds a registry over the given host source.
func NewRegistry(source Source, logger *zap.Logger) *Registry {
	return &Registry{
		source: source,
		log:    logging.OrNop(logger),
		active: make(map[string]host.ChannelHandler),
	}
}

// ResubscribeAll detaches from every named channel and then attaches the
// handler to each. The unconditional unsubscribe sweep is the defense against
// duplicate registration when this runs again after an identity change; the
// host treats detaching an absent handler as a no-op. Per-channel failures
// are logged and never abort the remaining channels.
func (r *Registry) ResubscribeAll(channels []string, handler host.ChannelHandler) {
	if r == nil || r.source == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	//1.- Detach sweep: drop whichever handle may still be live per channel.
	for _, channel := range channels {
		prior, ok := r.active[channel]
		if !ok {
			prior = handler
		}
		if err := r.safeUnsubscribe(channel, prior); err != nil {
			r.log.Warn("channel unsubscribe failed",
				zap.String("channel", channel), zap.Error(err))
		}
		delete(r.active, channel)
	}

	//2.- Attach sweep: best-effort fan-out, one handle per channel.
	for _, channel := range channels {
		if err := r.safeSubscribe(channel, handler); err != nil {
			r.log.Warn("channel subscribe failed",
				zap.String("channel", channel), zap.Error(err))
			continue
		}
		r.active[channel] = handler
	}
}

// ActiveChannels lists the channels that currently hold a live handle.
func (r *Registry) ActiveChannels() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	channels := make([]string, 0, len(r.active))
	for channel := range r.active {
		channels = append(channels, channel)
	}
	return channels
}

func (r *Registry) safeSubscribe(channel string, handler host.ChannelHandler) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("subscribe panicked: %v", recovered)
		}
	}()
	return r.source.Subscribe(channel, handler)
}

func (r *Registry) safeUnsubscribe(channel string, handler host.ChannelHandler) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("unsubscribe panicked: %v", recovered)
		}
	}()
	return r.source.Unsubscribe(channel, handler)
}
