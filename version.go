package neonflow

import (
	_ "embed"
)

// Version is the release version of neonflow.
//
//go:embed VERSION
var Version string
