/*
Package health provides HTTP, TCP and exec health checkers used by the
containerctx readiness probe (Started -> Ready) and by the ambulance's
check_health task. A Checker reports a boolean Result; Status tracks
consecutive failures so callers can apply their own bounded-attempt policy.
*/
package health
