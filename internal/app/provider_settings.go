package app

import "github.com/branchpoint/claudegate/internal/translate"

// providerKind maps a configured backend name to the translate.ProviderKind
// that selects its extra-body injection shape.
func (p *ProviderConfig) providerKind() translate.ProviderKind {
	switch p.Name {
	case ProviderOpenRouter:
		return translate.ProviderOpenRouter
	case ProviderLMStudio:
		return translate.ProviderLMStudio
	default:
		return translate.ProviderNIM
	}
}

// providerConfigSettings adapts *ProviderConfig to server.ProviderSettings
// without internal/app importing internal/server (the dependency points the
// other way: server depends on a narrow interface, app supplies it).
type providerConfigSettings struct {
	cfg *ProviderConfig
}

func (s providerConfigSettings) HaikuModel() string             { return s.cfg.HaikuModel() }
func (s providerConfigSettings) SonnetModel() string            { return s.cfg.SonnetModel() }
func (s providerConfigSettings) OpusModel() string              { return s.cfg.OpusModel() }
func (s providerConfigSettings) ModelName() string              { return s.cfg.ModelName() }
func (s providerConfigSettings) Kind() translate.ProviderKind    { return s.cfg.providerKind() }
func (s providerConfigSettings) MaxTokensCap() int               { return s.cfg.MaxTokensCap }
