// Package redis implements queue.Engine, sweep.Locker and stream.Notifier
// on Redis. It carries delivery only: pair it with a durable job store.
//
// Each queue is a Sorted Set scored by the time a message next becomes
// visible (its RunAt, or its lease end while a worker holds it). Message
// state lives in a Hash; the immutable envelope is msgpack-encoded. Fetch,
// Extend, Complete and Fail run as Lua scripts so lease changes are atomic.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	q := redis.New(client)
//	eng, err := engine.Build(pg, reg, engine.WithQueueEngine(q))
package redis
