package downloader

import (
	"os"
	"strconv"

	"github.com/google/uuid"
)

// InstanceID returns a string identifying this process in the ledger:
// hostname, pid and a random suffix.
func InstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + uuid.NewString()[:8]
}
