// Package archive lands raw vendor pages in MongoDB before transformation,
// keyed by vendor identity so re-extraction refreshes the stored payload
// instead of duplicating it. The landing zone exists for replay and
// diagnostics; the pipeline treats it as best-effort.
package archive

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/rpaops/orcsync/pkg/logger"
	"github.com/rpaops/orcsync/pkg/models"
)

type Mongo struct {
	client *mongo.Client
	dbName string
}

func NewMongo(client *mongo.Client, dbName string) *Mongo {
	return &Mongo{client: client, dbName: dbName}
}

func (m *Mongo) ArchivePage(ctx context.Context, source, runID string, records []models.RawRecord) error {
	if len(records) == 0 {
		return nil
	}
	coll := m.client.Database(m.dbName).Collection(source)

	var writes []mongo.WriteModel
	for _, rec := range records {
		key := vendorKey(rec)
		if key == "" {
			logger.Warnf("archive: %s record without Id or Key, skipping", source)
			continue
		}
		filter := bson.M{"vendor_key": key}
		update := bson.M{"$set": bson.M{
			"vendor_key":  key,
			"payload":     map[string]interface{}(rec),
			"run_id":      runID,
			"archived_at": time.Now().UTC(),
		}}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}
	if len(writes) == 0 {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	res, err := coll.BulkWrite(opCtx, writes)
	if err != nil {
		return err
	}
	logger.Debugf("archive %s: matched %d, modified %d, upserted %d",
		source, res.MatchedCount, res.ModifiedCount, res.UpsertedCount)
	return nil
}

// vendorKey picks whichever vendor identifier the record carries: queue
// items have a numeric Id, jobs a Key uuid.
func vendorKey(rec models.RawRecord) string {
	if id, ok := rec["Id"]; ok && id != nil {
		return fmt.Sprintf("%v", id)
	}
	if key, ok := rec["Key"]; ok && key != nil {
		return fmt.Sprintf("%v", key)
	}
	return ""
}
