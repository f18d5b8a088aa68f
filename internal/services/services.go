package services

import "github.com/imcphost/imcp/internal/registry"

// Default returns the build-time catalog of Services, in the order they are
// presented to ListTools (spec §3 "Registry is a fixed ordered list of
// Services known at build time").
func Default() []registry.Service {
	return []registry.Service{
		NewCalendarService(),
		NewRemindersService(),
	}
}
