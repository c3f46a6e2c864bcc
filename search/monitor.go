package search

import "github.com/poiesic/docqa/core"

// RetrievalMonitor provides hooks to observe the retrieval process.
// Implement this interface to track intermediate steps and results.
// SubQueryDone may be called concurrently from pool workers.
type RetrievalMonitor interface {
	Start(query string)
	AfterQueryGeneration(queries []string)
	SubQueryDone(query string, hits int, err error)
	Finish(result core.Retrieval)
}

// noopMonitor is a no-op implementation of RetrievalMonitor
type noopMonitor struct{}

var _ RetrievalMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                        {}
func (n *noopMonitor) AfterQueryGeneration(_ []string)       {}
func (n *noopMonitor) SubQueryDone(_ string, _ int, _ error) {}
func (n *noopMonitor) Finish(_ core.Retrieval)               {}
