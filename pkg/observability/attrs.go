package observability

import "go.opentelemetry.io/otel/attribute"

// Semantic convention attribute keys shared by vigil spans and metrics.
var (
	AttrAction   = attribute.Key("vigil.action")
	AttrSphere   = attribute.Key("vigil.sphere")
	AttrIdentity = attribute.Key("vigil.identity")
	AttrVerdict  = attribute.Key("vigil.verdict")

	AttrCheckpoint = attribute.Key("vigil.checkpoint")
	AttrOutcome    = attribute.Key("vigil.outcome")
)
