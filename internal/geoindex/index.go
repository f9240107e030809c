// Package geoindex maintains an in-memory spatial index of posted tasks
// for radius queries.
package geoindex

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"

	"github.com/sajilotask/sajilo/internal/task"
)

// maxResults bounds a nearby query so a dense area cannot produce an
// unbounded scan.
const maxResults = 50

// document is the flat shape indexed per task. Distance math runs on the
// geo point field; tier and requester are term-filterable.
type document struct {
	Location    []float64 `json:"location"` // [lng, lat]
	AllowedTier string    `json:"allowed_tier"`
	RequesterID string    `json:"requester_id"`
}

// Index holds posted tasks in a memory-only bleve index. Tasks are added
// when they enter the posted state and removed when they leave it; the
// task store stays the source of truth and the index is rebuilt from it at
// startup.
type Index struct {
	idx bleve.Index
}

func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create geo index: %w", err)
	}
	return &Index{idx: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	geo := bleve.NewGeoPointFieldMapping()
	doc.AddFieldMappingsAt("location", geo)

	tier := bleve.NewKeywordFieldMapping()
	doc.AddFieldMappingsAt("allowed_tier", tier)

	requester := bleve.NewKeywordFieldMapping()
	doc.AddFieldMappingsAt("requester_id", requester)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Add indexes a posted task, replacing any previous entry for the same id.
func (i *Index) Add(t *task.Task) error {
	doc := document{
		Location:    []float64{t.Location.Lng, t.Location.Lat},
		AllowedTier: string(t.AllowedTier),
		RequesterID: t.RequesterID,
	}
	if err := i.idx.Index(t.ID, doc); err != nil {
		return fmt.Errorf("failed to index task %s: %w", t.ID, err)
	}
	return nil
}

// Remove drops a task from the index. Removing an unindexed id is a no-op.
func (i *Index) Remove(taskID string) error {
	if err := i.idx.Delete(taskID); err != nil {
		return fmt.Errorf("failed to remove task %s from geo index: %w", taskID, err)
	}
	return nil
}

// Nearby returns ids of indexed tasks within radiusKm of the point, ranked
// by distance, excluding the caller's own tasks. proTier widens visibility
// to pro-only tasks.
func (i *Index) Nearby(lat, lng, radiusKm float64, callerID string, proTier bool) ([]string, error) {
	geoQ := bleve.NewGeoDistanceQuery(lng, lat, fmt.Sprintf("%fkm", radiusKm))
	geoQ.SetField("location")

	boolQ := bleve.NewBooleanQuery()
	boolQ.AddMust(geoQ)

	if !proTier {
		tierQ := bleve.NewTermQuery(string(task.TierAll))
		tierQ.SetField("allowed_tier")
		boolQ.AddMust(tierQ)
	}

	ownQ := bleve.NewTermQuery(callerID)
	ownQ.SetField("requester_id")
	boolQ.AddMustNot(ownQ)

	req := bleve.NewSearchRequestOptions(boolQ, maxResults, 0, false)
	distSort, err := search.NewSortGeoDistance("location", "km", lng, lat, false)
	if err != nil {
		return nil, fmt.Errorf("geo sort failed: %w", err)
	}
	req.SortByCustom(search.SortOrder{distSort})

	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("geo search failed: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (i *Index) Close() error {
	return i.idx.Close()
}
