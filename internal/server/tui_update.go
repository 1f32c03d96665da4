// ABOUTME: TUI update helpers for server
// ABOUTME: Converts pipeline and transport state into TUI status
package server

import "time"

// status builds the current TUI status
func (s *Server) status() ServerStatus {
	snap := s.Snapshot()

	status := ServerStatus{
		Name:        s.config.Name,
		BroadcastID: s.config.BroadcastID,
		Preset:      s.config.Preset.Name,
		Container:   s.config.ContainerName,
		Frames:      s.frames,
		Duration:    s.header.Duration().Round(time.Millisecond),
		Loops:       snap.Loops,
		PoolInUse:   snap.Pool.InUse,
		PoolSize:    snap.Pool.Capacity,
		PoolWaits:   snap.Pool.Waits,
	}
	if addr := s.Addr(); addr != nil {
		status.Addr = addr.String() + s.config.Path
	}

	for _, ch := range snap.Channels {
		status.Channels = append(status.Channels, ChannelInfo{
			Index:       ch.Channel,
			State:       ch.State,
			Sent:        ch.Sent,
			Failures:    ch.Failures,
			Underruns:   ch.Underruns,
			Transmitted: ch.Transmitted,
		})
	}

	for _, l := range s.broadcaster.Listeners() {
		status.Listeners = append(status.Listeners, ListenerInfo{
			Name:    l.Name,
			ID:      l.ID,
			Since:   time.Since(l.Connected),
			Backlog: l.Backlog,
		})
	}

	return status
}

// updateTUI sends current server state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}
	s.tui.Update(s.status())
}
