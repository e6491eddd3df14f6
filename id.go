package toolqueue

import "github.com/aagnone3/toolqueue/id"

// ID is the identifier type shared by every toolqueue entity.
type ID = id.ID

// Prefix identifies the entity type encoded in an ID.
type Prefix = id.Prefix
