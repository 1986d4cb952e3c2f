package services

import "pisa/pkg/stageapi"

// DefaultRegistry returns a registry with every built-in service under its
// standard stage role.
func DefaultRegistry() *stageapi.Registry {
	r := stageapi.NewRegistry()
	for _, reg := range []struct {
		stage, service string
		factory        stageapi.Factory
	}{
		{"source", "histogram", NewHistogram},
		{"norm", "scale", NewScale},
		{"reco", "smear", NewSmear},
		{"sys", "linear", NewLinear},
	} {
		if err := r.Register(reg.stage, reg.service, reg.factory); err != nil {
			// Registrations are static; a duplicate is a programming error.
			panic(err)
		}
	}
	return r
}
