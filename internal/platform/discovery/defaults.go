// Package discovery centralizes in-network address conventions for threadline
// processes and their backing infrastructure.
package discovery

import (
	"strconv"
	"strings"
)

const (
	// ServiceMessaging is the messaging gRPC service identity.
	ServiceMessaging = "messaging"
	// ServiceWorker is the notification relay worker identity.
	ServiceWorker = "worker"
	// ServiceRedis is the Redis cache and queue identity.
	ServiceRedis = "redis"
	// ServicePostgres is the PostgreSQL identity.
	ServicePostgres = "postgres"
)

var grpcPorts = map[string]int{
	ServiceMessaging: 8095,
	ServiceWorker:    8096,
}

var infraPorts = map[string]int{
	ServiceRedis:    6379,
	ServicePostgres: 5432,
}

// DefaultGRPCAddr returns the canonical in-network gRPC address for a service.
func DefaultGRPCAddr(service string) string {
	return defaultAddr(strings.TrimSpace(service), grpcPorts)
}

// OrDefaultGRPCAddr returns value when set, otherwise the service convention.
func OrDefaultGRPCAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return DefaultGRPCAddr(service)
}

// OrDefaultInfraAddr returns value when set, otherwise host:port for a
// backing service such as Redis.
func OrDefaultInfraAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return defaultAddr(strings.TrimSpace(service), infraPorts)
}

func defaultAddr(service string, ports map[string]int) string {
	port, ok := ports[service]
	if !ok || port <= 0 {
		return ""
	}
	return service + ":" + strconv.Itoa(port)
}
