package billing

import "strings"

// Feature identifies a billed capability.
type Feature string

const (
	// Consumption features: usage is a stored, monotonically increasing
	// counter within a billing period.
	FeatureCallMinutes    Feature = "call_minutes"
	FeatureVoicemailDrops Feature = "voicemail_drops"

	// Capacity features: usage is the live count of existing entities, never
	// a stored counter. The ledger recomputes it on every check.
	FeatureMaxAgents       Feature = "max_agents"
	FeatureConcurrentCalls Feature = "concurrent_calls"
)

type FeatureKind string

const (
	FeatureKindConsumption FeatureKind = "consumption"
	FeatureKindCapacity    FeatureKind = "capacity"
)

var featureKinds = map[Feature]FeatureKind{
	FeatureCallMinutes:     FeatureKindConsumption,
	FeatureVoicemailDrops:  FeatureKindConsumption,
	FeatureMaxAgents:       FeatureKindCapacity,
	FeatureConcurrentCalls: FeatureKindCapacity,
}

// Kind returns the metering style of the feature.
func (f Feature) Kind() (FeatureKind, bool) {
	k, ok := featureKinds[f]
	return k, ok
}

// Known reports whether f is a billed feature.
func (f Feature) Known() bool {
	_, ok := featureKinds[f]
	return ok
}

// RouteFeatureMap maps an operation identifier to the feature it consumes.
// Operation identifiers cover literal HTTP routes ("POST /v1/calls/start")
// and namespaced virtual operations triggered internally
// ("internal:call_minutes", "worker:dial_attempt", "webhook:voicemail_drop").
// Unmapped operations are free.
type RouteFeatureMap struct {
	routes map[string]Feature
}

// NewRouteFeatureMap returns the platform's default operation→feature table.
func NewRouteFeatureMap() *RouteFeatureMap {
	return &RouteFeatureMap{routes: map[string]Feature{
		// External request routes.
		"POST /v1/calls/start": FeatureConcurrentCalls,
		"POST /v1/agents":      FeatureMaxAgents,

		// Virtual operations reported by workers and webhooks.
		"internal:call_minutes":  FeatureCallMinutes,
		"worker:dial_attempt":    FeatureConcurrentCalls,
		"webhook:voicemail_drop": FeatureVoicemailDrops,
	}}
}

// Resolve returns the feature the operation consumes, or false if the
// operation is unmetered.
func (m *RouteFeatureMap) Resolve(operationID string) (Feature, bool) {
	f, ok := m.routes[strings.TrimSpace(operationID)]
	return f, ok
}
