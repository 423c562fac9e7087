package common

const (
	ComponentSyncer    = "syncer"
	ComponentScheduler = "scheduler"
	ComponentChain     = "chain-client"
	ComponentDecoder   = "decoder"
	ComponentSchema    = "schema"
	ComponentWriter    = "row-writer"
	ComponentProgress  = "progress"
	ComponentRegistry  = "registry"
	ComponentDB        = "db"
	ComponentMetrics   = "metrics"
)

var AllComponents = map[string]struct{}{
	ComponentSyncer:    {},
	ComponentScheduler: {},
	ComponentChain:     {},
	ComponentDecoder:   {},
	ComponentSchema:    {},
	ComponentWriter:    {},
	ComponentProgress:  {},
	ComponentRegistry:  {},
	ComponentDB:        {},
	ComponentMetrics:   {},
}
