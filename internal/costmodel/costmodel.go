// Package costmodel holds the static engine reference table: which
// capability/parameter combinations each generation engine accepts and what
// they cost in credits. The table is immutable after construction; pricing
// changes ship as a config change, never a runtime mutation.
package costmodel

import (
	"fmt"

	"clipforge/internal/domain"
)

// EngineKind separates duration-priced video engines from flat-priced image
// engines.
type EngineKind string

const (
	KindVideo EngineKind = "video"
	KindImage EngineKind = "image"
)

// Capabilities flags what an engine supports beyond a bare text prompt.
type Capabilities struct {
	NativeAudio    bool
	StartFrame     bool
	EndFrame       bool
	ImageReference bool
	VideoReference bool
}

// EngineSpec describes the allowed parameter space and prices of one engine.
type EngineSpec struct {
	Kind        EngineKind
	Durations   []int
	Resolutions []string
	Caps        Capabilities
	// Prices maps duration seconds to credit cost. Empty for image engines.
	Prices map[int]int
}

// Params are the caller-supplied generation parameters to validate against
// an engine's capabilities before any credits are reserved.
type Params struct {
	DurationSeconds int
	Resolution      string
	WithAudio       bool
	StartFrameRef   string
	EndFrameRef     string
	ImageRefs       []string
	VideoRef        string
}

// Model answers pricing and capability questions from the engine table.
type Model struct {
	engines    map[string]EngineSpec
	imagePrice int
}

// New builds a model over the given engine table. Callers normally use
// Default.
func New(engines map[string]EngineSpec, imagePrice int) *Model {
	return &Model{engines: engines, imagePrice: imagePrice}
}

// Spec returns the engine's table entry.
func (m *Model) Spec(engine string) (EngineSpec, error) {
	spec, ok := m.engines[engine]
	if !ok {
		return EngineSpec{}, fmt.Errorf("%w: %q", domain.ErrUnknownEngine, engine)
	}
	return spec, nil
}

// Capabilities returns the engine's capability flags.
func (m *Model) Capabilities(engine string) (Capabilities, error) {
	spec, err := m.Spec(engine)
	if err != nil {
		return Capabilities{}, err
	}
	return spec.Caps, nil
}

// Price returns the credit cost for one generation. Image engines have a
// single flat per-image price regardless of variant; video engines price by
// duration. Extend requests price identically to a fresh generation of the
// same engine and duration, so no distinction is made here.
func (m *Model) Price(engine string, durationSeconds int) (int, error) {
	spec, err := m.Spec(engine)
	if err != nil {
		return 0, err
	}
	if spec.Kind == KindImage {
		return m.imagePrice, nil
	}
	price, ok := spec.Prices[durationSeconds]
	if !ok {
		return 0, fmt.Errorf("%w: %ds on %s", domain.ErrUnsupportedDuration, durationSeconds, engine)
	}
	return price, nil
}

// ValidateParams rejects parameter combinations the engine cannot serve.
// This runs before reservation so credits are never held for a request the
// provider would bounce.
func (m *Model) ValidateParams(engine string, p Params) error {
	spec, err := m.Spec(engine)
	if err != nil {
		return err
	}
	if spec.Kind == KindImage {
		if p.DurationSeconds != 0 {
			return fmt.Errorf("%w: duration on image engine %s", domain.ErrInvalidParams, engine)
		}
	} else {
		if _, ok := spec.Prices[p.DurationSeconds]; !ok {
			return fmt.Errorf("%w: %ds on %s", domain.ErrUnsupportedDuration, p.DurationSeconds, engine)
		}
	}
	if p.Resolution != "" && !contains(spec.Resolutions, p.Resolution) {
		return fmt.Errorf("%w: resolution %q on %s", domain.ErrInvalidParams, p.Resolution, engine)
	}
	if p.WithAudio && !spec.Caps.NativeAudio {
		return fmt.Errorf("%w: %s has no native audio", domain.ErrInvalidParams, engine)
	}
	if p.StartFrameRef != "" && !spec.Caps.StartFrame {
		return fmt.Errorf("%w: %s does not accept a start frame", domain.ErrInvalidParams, engine)
	}
	if p.EndFrameRef != "" && !spec.Caps.EndFrame {
		return fmt.Errorf("%w: %s does not accept an end frame", domain.ErrInvalidParams, engine)
	}
	if len(p.ImageRefs) > 0 && !spec.Caps.ImageReference {
		return fmt.Errorf("%w: %s does not accept image references", domain.ErrInvalidParams, engine)
	}
	if p.VideoRef != "" && !spec.Caps.VideoReference {
		return fmt.Errorf("%w: %s does not accept a video reference", domain.ErrInvalidParams, engine)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
