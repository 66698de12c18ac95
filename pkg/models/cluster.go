package models

import (
	"fmt"
	"time"
)

// SubCluster is one named event proposed by the refinement oracle.
type SubCluster struct {
	Theme      string  `json:"theme"`
	ArticleIDs []int64 `json:"article_ids"`
}

// ValidatedCluster is a sub-cluster that passed refinement and is ready to persist.
// RawLabel and Index only feed the internal label; they carry no identity across runs.
type ValidatedCluster struct {
	SubCluster
	RawLabel int
	Index    int
}

// Label builds the traceability label stored with a persisted cluster.
func (v ValidatedCluster) Label(runAt time.Time) string {
	return fmt.Sprintf("gpt_validated_%s_%d_%d", runAt.UTC().Format("20060102_150405"), v.RawLabel, v.Index)
}

// Cluster is a persisted event cluster with its members.
type Cluster struct {
	CreatedAt time.Time     `json:"created_at"`
	Label     string        `json:"label"`
	Theme     string        `json:"theme"`
	Items     []ClusterItem `json:"items"`
	ID        int64         `json:"cluster_id"`
}

// Size returns the number of member articles.
func (c *Cluster) Size() int {
	return len(c.Items)
}

// ClusterItem links an article to a persisted cluster.
type ClusterItem struct {
	ID        int64 `json:"id"`
	ClusterID int64 `json:"-"`
	NewsID    int64 `json:"news_id"`
}

// ClusterPage is one page of clusters ordered by member count.
type ClusterPage struct {
	Clusters []Cluster `json:"clusters"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	PerPage  int       `json:"per_page"`
}
