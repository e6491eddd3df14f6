// Package mongo implements the job store and sweep lock on MongoDB using
// the official v2 driver.
//
// Claims are a single FindOneAndUpdate sorted by priority then creation
// time, so two claimers never flip the same PENDING job. MongoDB keeps
// millisecond precision; timestamps read back are truncated accordingly.
// There is no queue engine here: pair the store with store/redis for
// worker delivery, or rely on the sweep.
package mongo
