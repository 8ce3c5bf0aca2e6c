package service

import (
	"fmt"
	"sync"
)

// Process-wide named service directory, replacing the original's fixed
// 4-slot array (sdtl_srv_reg, explicitly marked "FIXME not thread
// safe" in the source) with an RWMutex-guarded map: same linear-scan
// simplicity in spirit (services are few per process), actually safe
// for concurrent Start/Stop/Lookup.
var registry struct {
	mu sync.RWMutex
	m  map[string]*Service
}

func init() {
	registry.m = make(map[string]*Service)
}

func register(s *Service) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.m[s.name] = s
}

func unregister(s *Service) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.m[s.name] == s {
		delete(registry.m, s.name)
	}
}

// Lookup finds a running service by name, mirroring
// sdtl_service_lookup.
func Lookup(name string) (*Service, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	s, ok := registry.m[name]
	if !ok {
		return nil, fmt.Errorf("service: no service named %q", name)
	}
	return s, nil
}
