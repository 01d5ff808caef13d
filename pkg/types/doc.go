/*
Package types is the foundation of the controller's data model: projects,
accounts, tiers, teams, custom domains, services and deployments. It has no
dependencies on the rest of the controller so that pkg/state, pkg/gateway,
pkg/deploydriver and pkg/authz can all import it without cycles.
*/
package types
