package conn

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	defaultMongoHost    = "localhost"
	defaultMongoPort    = 27017
	defaultMongoTimeout = 10 * time.Second
)

// MongoOption defines connection options for MongoDB.
type MongoOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	ReplicaSet string
	ConnString string
	Timeout    time.Duration
}

// MongoClient wraps a MongoDB connection and its default database handle.
type MongoClient struct {
	opt    MongoOption
	client *mongo.Client
}

// NewMongo connects to MongoDB and verifies the session with a ping.
func NewMongo(ctx context.Context, option MongoOption) (*MongoClient, error) {
	timeout := option.Timeout
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(option.uri()))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return &MongoClient{opt: option, client: client}, nil
}

// Database returns the configured database handle.
func (c *MongoClient) Database() *mongo.Database {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Database(c.opt.Database)
}

// Client returns the underlying mongo client.
func (c *MongoClient) Client() *mongo.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// Close disconnects the underlying client.
func (c *MongoClient) Close(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Disconnect(ctx)
}

func (opt MongoOption) uri() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultMongoHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultMongoPort
	}

	u := &url.URL{
		Scheme: "mongodb",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	if opt.ReplicaSet != "" {
		query.Set("replicaSet", opt.ReplicaSet)
	}
	if len(query) != 0 {
		u.RawQuery = query.Encode()
	}

	return u.String()
}
