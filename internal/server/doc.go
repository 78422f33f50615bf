// Package server hosts the Fiber HTTP service and its middleware chain.
// NewApp attaches panic recovery, request IDs, and a JSON error handler, then
// lets explicit Registrars mount their routes. The shared upstream HTTP
// client used by fetch-through lives here too, so handlers accept it as a
// dependency instead of building their own transports.
package server
