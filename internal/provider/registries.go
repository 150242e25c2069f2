package provider

import "github.com/fyrsmithlabs/reasond/internal/registry"

// Registries bundles one typed registry per capability domain.
type Registries struct {
	Reasoning     *registry.Registry[Reasoning]
	Memory        *registry.Registry[Memory]
	Communication *registry.Registry[Communication]
	Tool          *registry.Registry[Tool]
	Guidance      *registry.Registry[Guidance]
}

// NewRegistries creates empty registries sharing opts.
func NewRegistries(opts registry.Options) *Registries {
	return &Registries{
		Reasoning:     registry.New[Reasoning](registry.Reasoning, opts),
		Memory:        registry.New[Memory](registry.Memory, opts),
		Communication: registry.New[Communication](registry.Communication, opts),
		Tool:          registry.New[Tool](registry.Tool, opts),
		Guidance:      registry.New[Guidance](registry.Guidance, opts),
	}
}

// Seal seals every registry.
func (r *Registries) Seal() {
	r.Reasoning.Seal()
	r.Memory.Seal()
	r.Communication.Seal()
	r.Tool.Seal()
	r.Guidance.Seal()
}

// Snapshot returns provider status for every domain.
func (r *Registries) Snapshot() map[registry.Domain][]registry.ProviderStatus {
	return map[registry.Domain][]registry.ProviderStatus{
		registry.Reasoning:     r.Reasoning.Snapshot(),
		registry.Memory:        r.Memory.Snapshot(),
		registry.Communication: r.Communication.Snapshot(),
		registry.Tool:          r.Tool.Snapshot(),
		registry.Guidance:      r.Guidance.Snapshot(),
	}
}
