/*
Package api serves the control plane over HTTP.

Routes are registered on a gorilla/mux router:

	GET    /v1/clusters
	POST   /v1/clusters
	GET    /v1/clusters/{id}
	DELETE /v1/clusters/{id}
	PUT    /v1/clusters/{id}/target/user
	PUT    /v1/clusters/{id}/target/admin
	POST   /v1/clusters/{id}/nodes
	POST   /v1/clusters/{id}/observed
	POST   /v1/clusters/{id}/upgrade/complete
	POST   /v1/clusters/{id}/upgrade/rollback
	POST   /v1/clusters/{id}/upgrade/poll
	POST   /v1/clusters/{id}/deployment
	POST   /v1/clusters/{id}/running
	GET    /v1/clusters/{id}/manifests
	GET    /v1/clusters/{id}/manifests/{version}
	POST   /v1/controlplane/tokens
	POST   /v1/controlplane/join
	GET    /health, /livez, /ready, /metrics

Cluster management errors are answered with 422 and their error code;
invariant violations with 500. The deployment and running routes feed a
deploy.Tracker set with SetTracker; without one they answer 501. The Unix socket listener only serves reads.
*/
package api
