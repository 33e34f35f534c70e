package transform

import "github.com/cuongbtq/pythia/internal/domain"

// PCATrace holds the samples of one experimental group
type PCATrace struct {
	Group   string    `json:"group"`
	Samples []string  `json:"samples"`
	PC1     []float64 `json:"x"`
	PC2     []float64 `json:"y"`
}

// GroupPCA splits points into one trace per group, in order of first appearance
func GroupPCA(points []domain.PCAPoint) []PCATrace {
	index := map[string]int{}
	var traces []PCATrace
	for _, p := range points {
		i, ok := index[p.Group]
		if !ok {
			i = len(traces)
			index[p.Group] = i
			traces = append(traces, PCATrace{Group: p.Group})
		}
		traces[i].Samples = append(traces[i].Samples, p.Sample)
		traces[i].PC1 = append(traces[i].PC1, p.PC1)
		traces[i].PC2 = append(traces[i].PC2, p.PC2)
	}
	return traces
}
