package common

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	idNode     *snowflake.Node
	idNodeOnce sync.Once
)

// NewActionID returns a time ordered id for one user-triggered action.
func NewActionID() string {
	idNodeOnce.Do(func() {
		node, err := snowflake.NewNode(1)
		if err != nil {
			log.Fatal(err)
		}
		idNode = node
	})
	return idNode.Generate().String()
}

// NewCutUUIDString returns a uuid without `-`.
func NewCutUUIDString() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func MustGetJSONString(m interface{}) string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		log.Error(err)
		return "{}"
	}
	return string(data)
}

// ShortAddress keeps the head and tail of an address for log lines.
func ShortAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}
