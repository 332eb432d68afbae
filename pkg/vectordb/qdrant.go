package vectordb

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/lorehq/lore/pkg/config"
)

// QdrantBackend stores docs-index vectors in a Qdrant collection.
type QdrantBackend struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantBackend(cfg config.DocsIndexConfig) (*QdrantBackend, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantUseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &QdrantBackend{client: client, collection: cfg.Collection}, nil
}

func (b *QdrantBackend) ensureCollection(ctx context.Context, dim int) error {
	exists, err := b.client.CollectionExists(ctx, b.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func (b *QdrantBackend) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := b.ensureCollection(ctx, len(entries[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		payload := map[string]*qdrant.Value{
			"content": qdrant.NewValueString(e.Content),
		}
		for k, v := range e.Metadata {
			payload[k] = qdrant.NewValueString(v)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(e.ID),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: payload,
		})
	}

	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: b.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

func (b *QdrantBackend) Search(ctx context.Context, vector []float32, topK int) ([]Result, error) {
	limit := uint64(topK)
	points, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: b.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		r := Result{Score: p.Score, Metadata: map[string]string{}}
		if p.Id != nil {
			if u, ok := p.Id.PointIdOptions.(*qdrant.PointId_Uuid); ok {
				r.ID = u.Uuid
			} else if n, ok := p.Id.PointIdOptions.(*qdrant.PointId_Num); ok {
				r.ID = fmt.Sprintf("%d", n.Num)
			}
		}
		for k, v := range p.Payload {
			if k == "content" {
				r.Content = v.GetStringValue()
				continue
			}
			r.Metadata[k] = v.GetStringValue()
		}
		results = append(results, r)
	}
	return results, nil
}

func (b *QdrantBackend) Count(ctx context.Context) (int, error) {
	exists, err := b.client.CollectionExists(ctx, b.collection)
	if err != nil {
		return 0, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		return 0, nil
	}
	count, err := b.client.Count(ctx, &qdrant.CountPoints{CollectionName: b.collection})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return int(count), nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}
