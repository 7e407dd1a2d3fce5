// Package shared holds cross-cutting infrastructure used by the node's
// top-level wiring: the service lifecycle registry and the version string.
package shared

import (
	"fmt"
	"reflect"

	log "github.com/sirupsen/logrus"
)

// Service is a long-running component managed by a ServiceRegistry: a
// background sync loop, the network dispatcher's worker pool, the metrics
// HTTP server, and so on.
type Service interface {
	// Start spawns the service's goroutines. It must not block.
	Start()
	// Stop halts the service and frees its resources.
	Stop() error
	// Status reports a non-nil error if the service is unhealthy.
	Status() error
}

// ServiceRegistry tracks a node's services by concrete type, so that one
// service can be constructed and later fetched by another without a direct
// reference being threaded through every constructor.
type ServiceRegistry struct {
	services map[reflect.Type]Service
	order    []reflect.Type
}

// NewServiceRegistry returns an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[reflect.Type]Service),
	}
}

// RegisterService stores a service into the registry, keyed by its
// concrete type. Registering the same type twice is a programming error.
func (r *ServiceRegistry) RegisterService(service Service) error {
	kind := reflect.TypeOf(service)
	if _, exists := r.services[kind]; exists {
		return fmt.Errorf("service already registered: %s", kind)
	}
	r.services[kind] = service
	r.order = append(r.order, kind)
	return nil
}

// FetchService populates dest, which must be a non-nil pointer to an
// interface or concrete service type, with the registered service of that
// type. Returns an error if no such service was registered.
func (r *ServiceRegistry) FetchService(dest interface{}) error {
	destVal := reflect.ValueOf(dest).Elem()
	service, exists := r.services[destVal.Type()]
	if !exists {
		return fmt.Errorf("unknown service: %s", destVal.Type())
	}
	destVal.Set(reflect.ValueOf(service))
	return nil
}

// StartAll starts every registered service in registration order.
func (r *ServiceRegistry) StartAll() {
	for _, kind := range r.order {
		log.WithField("service", kind).Debug("Starting service")
		r.services[kind].Start()
	}
}

// StopAll stops every registered service in reverse registration order,
// logging but not stopping on individual failures so that shutdown
// continues cleaning up the rest.
func (r *ServiceRegistry) StopAll() {
	for i := len(r.order) - 1; i >= 0; i-- {
		kind := r.order[i]
		if err := r.services[kind].Stop(); err != nil {
			log.WithField("service", kind).WithError(err).Error("Failed to stop service")
		}
	}
}

// Statuses reports the health of every registered service, keyed by type.
func (r *ServiceRegistry) Statuses() map[reflect.Type]error {
	statuses := make(map[reflect.Type]error, len(r.order))
	for _, kind := range r.order {
		statuses[kind] = r.services[kind].Status()
	}
	return statuses
}
