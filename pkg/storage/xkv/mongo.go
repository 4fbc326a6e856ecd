package xkv

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Mongo 基于 MongoDB 集合的存储基座。
//
// 每个映射是 database 下的一个集合 prefix+name，文档形如 {_id: key, v: value}。
// PutIfAbsent 依赖 _id 唯一索引：InsertOne 遇到重复键即视为已存在。
// 按前缀扫描使用锚定的 _id 正则，可走 _id 索引。
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	opts   *mongoOptions
}

var _ Store = (*Mongo)(nil)

// kvDoc 映射中的一条记录。
type kvDoc struct {
	Key   string `bson:"_id"`
	Value []byte `bson:"v"`
}

// NewMongo 创建 MongoDB 存储基座。client 由调用方管理生命周期。
func NewMongo(client *mongo.Client, opts ...MongoOption) (*Mongo, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := defaultMongoOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Mongo{client: client, db: client.Database(o.database), opts: o}, nil
}

// Map 返回命名映射。
func (m *Mongo) Map(name string) Map {
	return &mongoMap{name: name, coll: m.db.Collection(m.opts.collectionPrefix + name)}
}

// Health 对主节点执行 Ping。
func (m *Mongo) Health(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("xkv: mongo health: %w", err)
	}
	return nil
}

// Close 无操作，client 由调用方断开。
func (m *Mongo) Close(context.Context) error {
	return nil
}

type mongoMap struct {
	name string
	coll *mongo.Collection
}

func (m *mongoMap) Name() string { return m.name }

func (m *mongoMap) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var doc kvDoc
	err := m.coll.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("xkv: mongo get %s %q: %w", m.name, key, err)
	}
	return doc.Value, nil
}

func (m *mongoMap) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := m.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: key}},
		kvDoc{Key: key, Value: value},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("xkv: mongo put %s %q: %w", m.name, key, err)
	}
	return nil
}

func (m *mongoMap) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := m.coll.InsertOne(ctx, kvDoc{Key: key, Value: value})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("xkv: mongo insert %s %q: %w", m.name, key, err)
	}
	return true, nil
}

func (m *mongoMap) Delete(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	res, err := m.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}})
	if err != nil {
		return false, fmt.Errorf("xkv: mongo delete %s %q: %w", m.name, key, err)
	}
	return res.DeletedCount > 0, nil
}

func (m *mongoMap) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	docs, err := m.find(ctx, prefix, nil)
	if err != nil {
		return nil, fmt.Errorf("xkv: mongo scan %s %q: %w", m.name, prefix, err)
	}
	out := make(map[string][]byte, len(docs))
	for _, d := range docs {
		out[d.Key] = d.Value
	}
	return out, nil
}

func (m *mongoMap) Keys(ctx context.Context, prefix string) ([]string, error) {
	docs, err := m.find(ctx, prefix, bson.D{{Key: "_id", Value: 1}})
	if err != nil {
		return nil, fmt.Errorf("xkv: mongo keys %s %q: %w", m.name, prefix, err)
	}
	keys := make([]string, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, d.Key)
	}
	return sortedUnique(keys), nil
}

func (m *mongoMap) find(ctx context.Context, prefix string, projection bson.D) ([]kvDoc, error) {
	opts := options.Find()
	if projection != nil {
		opts.SetProjection(projection)
	}
	cur, err := m.coll.Find(ctx, prefixFilter(prefix), opts)
	if err != nil {
		return nil, err
	}
	var docs []kvDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (m *mongoMap) Len(ctx context.Context) (int, error) {
	n, err := m.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("xkv: mongo count %s: %w", m.name, err)
	}
	return int(n), nil
}

func (m *mongoMap) Clear(ctx context.Context) error {
	if _, err := m.coll.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("xkv: mongo clear %s: %w", m.name, err)
	}
	return nil
}

// prefixFilter 空前缀匹配全部文档。
func prefixFilter(prefix string) bson.D {
	if prefix == "" {
		return bson.D{}
	}
	return bson.D{{Key: "_id", Value: bson.Regex{Pattern: "^" + regexp.QuoteMeta(prefix)}}}
}
