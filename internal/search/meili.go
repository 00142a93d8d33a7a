package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"
)

const idxSubjects = "eseuri_subjects"

// Meili searches the subject catalogue via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     *logrus.Entry
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. An
// unreachable server is not an error: the health loop keeps checking and
// callers fall back until it recovers.
func NewMeili(url, apiKey string, logger *logrus.Logger) *Meili {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    logger.WithField("component", "search"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.WithError(err).Warnf("meilisearch unavailable at %s", url)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxSubjects,
		PrimaryKey: "id",
	}); err != nil {
		m.log.WithError(err).Debugf("create index %s (may already exist)", idxSubjects)
	}

	index := m.client.Index(idxSubjects)
	filterable := []interface{}{"type"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.WithError(err).Warnf("update filterable attrs for %s", idxSubjects)
	}
	searchable := []string{"name", "creator"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.WithError(err).Warnf("update searchable attrs for %s", idxSubjects)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs q against the subject index.
func (m *Meili) Search(ctx context.Context, q Query) ([]SubjectRecord, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}
	req := &meili.SearchRequest{Limit: limit}
	if q.Type != "" {
		req.Filter = fmt.Sprintf("type = %q", q.Type)
	}

	resp, err := m.client.Index(idxSubjects).SearchWithContext(ctx, q.Text, req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	records := make([]SubjectRecord, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		records = append(records, hitToRecord(hit))
	}
	return records, int(resp.EstimatedTotalHits), nil
}

func hitToRecord(hit meili.Hit) SubjectRecord {
	return SubjectRecord{
		ID:        decodeString(hit, "id"),
		SubjectID: decodeInt(hit, "subjectId"),
		Name:      decodeString(hit, "name"),
		URL:       decodeString(hit, "url"),
		Creator:   decodeString(hit, "creator"),
		Type:      decodeString(hit, "type"),
		WorkCount: decodeInt(hit, "workCount"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

// ReplaceSubjects clears the subject index and loads records into it.
// Meilisearch runs the tasks of one index in order, so the deletion always
// lands before the new documents.
func (m *Meili) ReplaceSubjects(ctx context.Context, records []SubjectRecord) error {
	index := m.client.Index(idxSubjects)
	if _, err := index.DeleteAllDocumentsWithContext(ctx, nil); err != nil {
		return fmt.Errorf("clear %s: %w", idxSubjects, err)
	}
	if len(records) == 0 {
		return nil
	}
	if _, err := index.AddDocumentsWithContext(ctx, records, nil); err != nil {
		return fmt.Errorf("add documents to %s: %w", idxSubjects, err)
	}
	return nil
}
