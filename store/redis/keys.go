package redis

// Redis key naming conventions. All keys are prefixed with "toolqueue:" to
// avoid collisions.

const keyPrefix = "toolqueue:"

// ── Queue keys ──

// msgKeyPrefix is joined with a message id inside Lua scripts.
const msgKeyPrefix = keyPrefix + "msg:"

// msgKey returns the Hash key for a message: toolqueue:msg:{id}
func msgKey(id string) string { return msgKeyPrefix + id }

// queueKey returns the Sorted Set key for a queue: toolqueue:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// deadKey returns the Sorted Set of dead-lettered ids: toolqueue:dead:{name}
func deadKey(name string) string { return keyPrefix + "dead:" + name }

// ── Lock keys ──

// lockKey returns the key for a named lease: toolqueue:lock:{name}
func lockKey(name string) string { return keyPrefix + "lock:" + name }

// ── Notification channels ──

// jobChannel returns the pub/sub channel for one job: toolqueue:job:{id}
func jobChannel(id string) string { return keyPrefix + "job:" + id }
