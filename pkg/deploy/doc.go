// Package deploy tracks how clusters converge on the manifests the control
// plane hands to the deployment orchestrator.
package deploy
