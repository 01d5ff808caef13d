/*
Package log wraps zerolog with component-scoped child loggers used across the
controller (pkg/state, pkg/task, pkg/gateway, pkg/deploydriver, pkg/worker).
Call Init once at startup; every other package obtains a logger via
WithComponent or one of the entity-scoped helpers.
*/
package log
