package jobstore

import (
	"strconv"

	"github.com/cuongbtq/docqueue/internal/domain"
)

// Redis key naming conventions. All keys share the "docqueue:" prefix.

const keyPrefix = "docqueue:"

// StatusChannel is the pub/sub channel carrying domain.StatusEvent payloads.
const StatusChannel = keyPrefix + "job-status"

// processingIndexKey is the Set of every claimed job id. Markers expire,
// the index does not, so reclamation can still find crashed claims.
const processingIndexKey = keyPrefix + "processing"

// jobKey returns the key for a job record: docqueue:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// queueKey returns the List key for a priority tier: docqueue:queue:{priority}
func queueKey(p domain.Priority) string { return keyPrefix + "queue:" + strconv.Itoa(int(p)) }

// ownerKey returns the Set key indexing an owner's jobs: docqueue:owner:{ownerId}
func ownerKey(ownerID string) string { return keyPrefix + "owner:" + ownerID }

// markerKey returns the processing marker key: docqueue:processing:{id}
func markerKey(id string) string { return keyPrefix + "processing:" + id }
