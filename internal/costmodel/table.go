package costmodel

// Engine identifiers accepted by the dispatch API.
const (
	EngineVeo31     = "VEO3_1"
	EngineVeo31Fast = "VEO3_1_FAST"
	EngineSora2     = "SORA_2"
	EngineKling25   = "KLING_2_5"
	EngineNano      = "NANO_BANANA"
)

// FlatImagePrice is the per-image credit cost, identical across image engine
// variants.
const FlatImagePrice = 24

// Default returns the deployed engine table.
func Default() *Model {
	return New(map[string]EngineSpec{
		EngineVeo31: {
			Kind:        KindVideo,
			Durations:   []int{4, 6, 8},
			Resolutions: []string{"720p", "1080p"},
			Caps: Capabilities{
				NativeAudio:    true,
				StartFrame:     true,
				EndFrame:       true,
				ImageReference: true,
			},
			Prices: map[int]int{4: 1070, 6: 1605, 8: 2140},
		},
		EngineVeo31Fast: {
			Kind:        KindVideo,
			Durations:   []int{4, 6, 8},
			Resolutions: []string{"720p", "1080p"},
			Caps: Capabilities{
				NativeAudio:    true,
				StartFrame:     true,
				EndFrame:       true,
				ImageReference: true,
			},
			Prices: map[int]int{4: 330, 6: 495, 8: 660},
		},
		EngineSora2: {
			Kind:        KindVideo,
			Durations:   []int{4, 8, 12},
			Resolutions: []string{"720p", "1080p"},
			Caps: Capabilities{
				NativeAudio:    true,
				ImageReference: true,
			},
			Prices: map[int]int{4: 160, 8: 320, 12: 480},
		},
		EngineKling25: {
			Kind:        KindVideo,
			Durations:   []int{5, 10},
			Resolutions: []string{"720p", "1080p"},
			Caps: Capabilities{
				StartFrame:     true,
				EndFrame:       true,
				VideoReference: true,
			},
			Prices: map[int]int{5: 210, 10: 420},
		},
		EngineNano: {
			Kind:        KindImage,
			Resolutions: []string{"1024p"},
			Caps: Capabilities{
				ImageReference: true,
			},
		},
	}, FlatImagePrice)
}
