package source

import (
	"context"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/event"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Driver is the production Client, a thin wrapper over
// *mongo.Client. It holds no local mutation beyond the driver's own
// connection pool.
type Driver struct {
	client        *mongo.Client
	secondaryRead bool
}

// NewDriver wraps an already-connected *mongo.Client.
func NewDriver(client *mongo.Client, secondaryRead bool) *Driver {
	return &Driver{client: client, secondaryRead: secondaryRead}
}

func (d *Driver) IsMongos(ctx context.Context) (bool, error) {
	var result bson.M
	err := d.client.Database("admin").RunCommand(ctx, bson.D{{Key: "serverStatus", Value: 1}}).Decode(&result)
	if err != nil {
		return false, err
	}
	process, _ := result["process"].(string)
	return strings.Contains(strings.ToLower(process), "mongos"), nil
}

func (d *Driver) Shards(ctx context.Context) ([]ShardServer, error) {
	cur, err := d.client.Database("config").Collection("shards").Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var shards []ShardServer
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		host, _ := doc["host"].(string)
		name := host
		if idx := strings.Index(host, "/"); idx >= 0 {
			name = host[:idx]
			host = host[idx+1:]
		}
		shards = append(shards, ShardServer{
			ReplicaSetName: name,
			Hosts:          strings.Split(host, ","),
		})
	}
	return shards, cur.Err()
}

func (d *Driver) AuthenticateAdmin(ctx context.Context, user, password string) error {
	// Authentication for go.mongodb.org/mongo-driver is negotiated once
	// at Connect time via the connection URI's credentials; there is no
	// per-call authenticateCommand as in the legacy driver. This method
	// exists so callers can probe admin-db reachability with the
	// credentials already on the connection and treat a failure as an
	// admin authentication failure.
	return d.client.Database("admin").RunCommand(ctx, bson.D{{Key: "connectionStatus", Value: 1}}).Err()
}

func (d *Driver) AuthenticateLocal(ctx context.Context, db, user, password string) error {
	// Same probe as AuthenticateAdmin, against the river's own database.
	return d.client.Database(db).RunCommand(ctx, bson.D{{Key: "connectionStatus", Value: 1}}).Err()
}

func (d *Driver) HasOplog(ctx context.Context) (bool, error) {
	names, err := d.client.Database("local").ListCollectionNames(ctx, bson.D{{Key: "name", Value: "oplog.rs"}})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

func (d *Driver) MaxOplogTimestamp(ctx context.Context) (primitive.Timestamp, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "$natural", Value: -1}})
	var doc event.Entry
	err := d.client.Database("local").Collection("oplog.rs").FindOne(ctx, bson.D{}, opts).Decode(&doc)
	if err != nil {
		return primitive.Timestamp{}, err
	}
	return doc.Ts, nil
}

func (d *Driver) TailOplog(ctx context.Context, filter bson.M) (Cursor, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "$natural", Value: 1}}).
		SetCursorType(options.TailableAwait)
	collOpts := options.Collection()
	if d.secondaryRead {
		collOpts.SetReadPreference(readpref.SecondaryPreferred())
	}
	coll := d.client.Database("local").Collection("oplog.rs", collOpts)
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return &mongoCursor{cur: cur}, nil
}

func (d *Driver) FindAll(ctx context.Context, db, collection string) (Cursor, error) {
	cur, err := d.client.Database(db).Collection(collection).Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	return &mongoCursor{cur: cur}, nil
}

func (d *Driver) FindMatching(ctx context.Context, db, collection string, selector bson.M, exclude []string) (Cursor, error) {
	opts := options.Find()
	if len(exclude) > 0 {
		projection := bson.M{}
		for _, f := range exclude {
			projection[f] = 0
		}
		opts.SetProjection(projection)
	}
	cur, err := d.client.Database(db).Collection(collection).Find(ctx, selector, opts)
	if err != nil {
		return nil, err
	}
	return &mongoCursor{cur: cur}, nil
}

func (d *Driver) GridFSFile(ctx context.Context, db, bucket, id string) (*event.AttachmentFile, error) {
	gdb := d.client.Database(db)
	bkt, err := gridfs.NewBucket(gdb, options.GridFSBucket().SetName(bucket))
	if err != nil {
		return nil, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	var filter interface{} = oid
	if err != nil {
		filter = id
	}

	cur, err := bkt.Find(bson.M{"_id": filter})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	if !cur.Next(ctx) {
		return nil, fmt.Errorf("source: gridfs file %s not found in %s.%s", id, db, bucket)
	}
	var meta struct {
		ID         interface{} `bson:"_id"`
		Filename   string      `bson:"filename"`
		Length     int64       `bson:"length"`
		ChunkSize  int32       `bson:"chunkSize"`
		MD5        string      `bson:"md5"`
		Metadata   bson.M      `bson:"metadata"`
		ContentTyp string      `bson:"contentType"`
	}
	if err := cur.Decode(&meta); err != nil {
		return nil, err
	}

	stream, err := bkt.OpenDownloadStream(filter)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	content, err := ioutil.ReadAll(stream)
	if err != nil {
		return nil, err
	}

	contentType := meta.ContentTyp
	if contentType == "" && meta.Metadata != nil {
		if ct, ok := meta.Metadata["contentType"].(string); ok {
			contentType = ct
		}
	}

	return &event.AttachmentFile{
		ID:          id,
		Filename:    meta.Filename,
		ContentType: contentType,
		MD5:         meta.MD5,
		Length:      meta.Length,
		ChunkSize:   meta.ChunkSize,
		Content:     content,
	}, nil
}

func (d *Driver) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

type mongoCursor struct {
	cur *mongo.Cursor
}

func (c *mongoCursor) Next(ctx context.Context) bool    { return c.cur.Next(ctx) }
func (c *mongoCursor) Decode(v interface{}) error       { return c.cur.Decode(v) }
func (c *mongoCursor) Err() error                       { return c.cur.Err() }
func (c *mongoCursor) Close(ctx context.Context) error  { return c.cur.Close(ctx) }
