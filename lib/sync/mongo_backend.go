package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/klpod221/kerminal/lib/vault/store"
)

// mongoBackend replicates entity documents into one collection per entity
// type on a MongoDB database, the document-store analogue of the relational
// backends' one-table-per-entity layout.
type mongoBackend struct {
	client *mongo.Client
	db     *mongo.Database
}

type mongoDoc struct {
	ID          string    `bson:"_id"`
	Version     int64     `bson:"version"`
	UpdatedAt   time.Time `bson:"updatedAt"`
	Checksum    string    `bson:"checksum"`
	DeviceID    string    `bson:"deviceId"`
	Deleted     bool      `bson:"deleted"`
	PayloadJSON string    `bson:"payloadJson"`
}

func newMongoBackend(ctx context.Context, desc store.ConnectionDescriptor) (Backend, error) {
	scheme := "mongodb"
	uri := fmt.Sprintf("%s://%s:%s@%s:%d", scheme, desc.Username, desc.Password, desc.Host, desc.Port)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, trace.Wrap(newTransportError(err))
	}
	return &mongoBackend{client: client, db: client.Database(desc.Database)}, nil
}

func (b *mongoBackend) collection(name string) *mongo.Collection {
	return b.db.Collection(name)
}

func (b *mongoBackend) FindByID(ctx context.Context, collection, id string) (Record, bool, error) {
	var doc mongoDoc
	err := b.collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, trace.Wrap(newTransportError(err))
	}
	return docToRecord(doc), true, nil
}

func (b *mongoBackend) ListAll(ctx context.Context, collection string) ([]Record, error) {
	cur, err := b.collection(collection).Find(ctx, bson.M{"deleted": false})
	if err != nil {
		return nil, trace.Wrap(newTransportError(err))
	}
	defer cur.Close(ctx)

	var out []Record
	for cur.Next(ctx) {
		var doc mongoDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, docToRecord(doc))
	}
	return out, trace.Wrap(cur.Err())
}

func (b *mongoBackend) Insert(ctx context.Context, collection string, rec Record) error {
	doc, err := recordToDoc(rec)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = b.collection(collection).InsertOne(ctx, doc)
	return trace.Wrap(newTransportErrorIfAny(err))
}

func (b *mongoBackend) Overwrite(ctx context.Context, collection string, rec Record) error {
	doc, err := recordToDoc(rec)
	if err != nil {
		return trace.Wrap(err)
	}
	opts := options.Replace().SetUpsert(true)
	_, err = b.collection(collection).ReplaceOne(ctx, bson.M{"_id": rec.ID}, doc, opts)
	return trace.Wrap(newTransportErrorIfAny(err))
}

func (b *mongoBackend) MarkDeleted(ctx context.Context, collection, id string) error {
	_, err := b.collection(collection).UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"deleted": true, "updatedAt": time.Now().UTC()}})
	return trace.Wrap(newTransportErrorIfAny(err))
}

func (b *mongoBackend) Ping(ctx context.Context) error {
	return trace.Wrap(newTransportErrorIfAny(b.client.Ping(ctx, nil)))
}

func (b *mongoBackend) Close() error {
	return trace.Wrap(b.client.Disconnect(context.Background()))
}

func docToRecord(doc mongoDoc) Record {
	return Record{
		ID:        doc.ID,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
		Checksum:  doc.Checksum,
		DeviceID:  doc.DeviceID,
		Deleted:   doc.Deleted,
		Payload:   json.RawMessage(doc.PayloadJSON),
	}
}

func recordToDoc(rec Record) (mongoDoc, error) {
	return mongoDoc{
		ID:          rec.ID,
		Version:     rec.Version,
		UpdatedAt:   rec.UpdatedAt,
		Checksum:    rec.Checksum,
		DeviceID:    rec.DeviceID,
		Deleted:     rec.Deleted,
		PayloadJSON: string(rec.Payload),
	}, nil
}
