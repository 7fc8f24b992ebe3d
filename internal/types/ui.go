package types

type DensitySnapshot struct {
	Type   string    `json:"type"`
	Height int       `json:"height"`
	Width  int       `json:"width"`
	Max    float32   `json:"max"`
	Values []float32 `json:"values"`
}

type StatusMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}
